package testutil

import "testing"

// Given, When and Then name nested subtests so a failure reads as a scenario, e.g.
// "Given_an_expired_certificate/When_it_is_verified/Then_the_verdict_is_EXPIRED".
func Given(t *testing.T, situation string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("Given "+situation, fn)
}

func When(t *testing.T, action string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("When "+action, fn)
}

func Then(t *testing.T, outcome string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("Then "+outcome, fn)
}
