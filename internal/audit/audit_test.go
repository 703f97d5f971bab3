package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hcert/internal/certificate/certerr"
	"hcert/internal/certificate/models"
	"hcert/internal/certificate/validity"
	"hcert/pkg/requestcontext"
)

func TestFingerprint(t *testing.T) {
	uvci := "URN:UVCI:01DE/IZ12345A/5CWLU12RNOB9RXSEOP6FG8#W"
	fp := Fingerprint(uvci)
	assert.Len(t, fp, 64)
	assert.Equal(t, fp, Fingerprint(" "+uvci+" "))
	assert.NotEqual(t, fp, Fingerprint(uvci+"X"))
	assert.NotContains(t, fp, "UVCI")
	assert.Empty(t, Fingerprint(""))
}

func TestClientType(t *testing.T) {
	tests := []struct {
		ua   string
		want string
	}{
		{"", ClientUnknown},
		{"Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)", ClientBot},
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 14_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.1.1 Mobile/15E148 Safari/604.1", ClientMobile},
		{"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/92.0.4515.107 Safari/537.36", ClientDesktop},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClientType(tt.ua), tt.ua)
	}
}

func TestVerificationEvent(t *testing.T) {
	now := time.Date(2021, 9, 1, 10, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)
	ctx = requestcontext.WithRequestID(ctx, "req-7")
	ctx = requestcontext.WithClientMetadata(ctx, "10.0.0.9", "")

	cert := &models.Certificate{
		Issuer: "AT",
		Name:   models.Name{Given: "Erika", Family: "Mustermann"},
		Entry: models.Entry{
			Kind:    models.VariantVaccination,
			Country: "AT",
			UVCI:    "URN:UVCI:01:AT:10807843F94AEE0EE5093FBC254BD813#B",
		},
	}

	e := VerificationEvent(ctx, cert, true, validity.Valid)
	assert.Equal(t, ActionVerified, e.Action)
	assert.Equal(t, now, e.Timestamp)
	assert.Equal(t, "req-7", e.RequestID)
	assert.Equal(t, "10.0.0.9", e.ClientIP)
	assert.Equal(t, ClientUnknown, e.ClientType)
	assert.Equal(t, models.VariantVaccination, e.Variant)
	assert.Equal(t, validity.Valid, e.Verdict)
	assert.True(t, e.Verified)
	assert.Equal(t, Fingerprint(cert.Entry.UVCI), e.UVCIFingerprint)
	assert.Empty(t, e.KeyID)
	assert.NotEqual(t, [16]byte{}, [16]byte(e.ID))

	r := RejectionEvent(ctx, certerr.New(certerr.KindDecode, "bad base45", nil))
	assert.Equal(t, ActionRejected, r.Action)
	assert.Equal(t, "decode_error", r.ErrorKind)
}

type failingSink struct{ calls int }

func (f *failingSink) Append(context.Context, Event) error {
	f.calls++
	return errors.New("broker unavailable")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublisher_SyncMode(t *testing.T) {
	sink := NewMemorySink(0)
	pub := NewPublisher(sink, WithLogger(discardLogger()))
	defer pub.Close()

	pub.Emit(context.Background(), Event{Action: ActionVerified, RequestID: "r1"})

	events := sink.Events()
	require.Len(t, events, 1)
	assert.False(t, events[0].Timestamp.IsZero())
	assert.Len(t, sink.ByRequestID("r1"), 1)
	assert.Empty(t, sink.ByRequestID("r2"))
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	sink := NewMemorySink(0)
	pub := NewPublisher(sink, WithAsyncBuffer(100), WithLogger(discardLogger()))

	for range 10 {
		pub.Emit(context.Background(), Event{Action: ActionVerified})
	}
	pub.Close()
	pub.Close()

	assert.Len(t, sink.Events(), 10)
}

func TestMemorySink_KeepsMostRecent(t *testing.T) {
	sink := NewMemorySink(3)
	ctx := context.Background()

	for _, id := range []string{"r1", "r2"} {
		require.NoError(t, sink.Append(ctx, Event{RequestID: id}))
	}
	assert.Equal(t, []string{"r1", "r2"}, requestIDs(sink.Events()))

	for _, id := range []string{"r3", "r4", "r5", "r6", "r7"} {
		require.NoError(t, sink.Append(ctx, Event{RequestID: id}))
	}
	assert.Equal(t, []string{"r5", "r6", "r7"}, requestIDs(sink.Events()))
	assert.Equal(t, 3, sink.Cap())
	assert.Empty(t, sink.ByRequestID("r1"))
	assert.Len(t, sink.ByRequestID("r6"), 1)
}

func TestMemorySink_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultMemoryCapacity, NewMemorySink(0).Cap())
	assert.Equal(t, DefaultMemoryCapacity, NewMemorySink(-5).Cap())
	assert.Equal(t, 1, NewMemorySink(1).Cap())
}

func TestMemorySink_CapacityOfOne(t *testing.T) {
	sink := NewMemorySink(1)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, sink.Append(context.Background(), Event{RequestID: id}))
	}
	assert.Equal(t, []string{"c"}, requestIDs(sink.Events()))
}

func requestIDs(events []Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.RequestID
	}
	return out
}

func TestPublisher_EmitAfterCloseIsDropped(t *testing.T) {
	for name, opts := range map[string][]Option{
		"sync":  {WithLogger(discardLogger())},
		"async": {WithAsyncBuffer(4), WithLogger(discardLogger())},
	} {
		t.Run(name, func(t *testing.T) {
			sink := NewMemorySink(0)
			pub := NewPublisher(sink, opts...)
			pub.Emit(context.Background(), Event{RequestID: "before"})
			pub.Close()

			assert.NotPanics(t, func() {
				pub.Emit(context.Background(), Event{RequestID: "after"})
			})
			assert.Equal(t, []string{"before"}, requestIDs(sink.Events()))
		})
	}
}

func TestPublisher_ConcurrentEmitAndClose(t *testing.T) {
	pub := NewPublisher(NewMemorySink(0), WithAsyncBuffer(8), WithLogger(discardLogger()))

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				pub.Emit(context.Background(), Event{Action: ActionVerified})
			}
		}()
	}
	pub.Close()
	wg.Wait()
}

func TestPublisher_SinkErrorsAreSwallowed(t *testing.T) {
	sink := &failingSink{}
	pub := NewPublisher(sink, WithLogger(discardLogger()))

	assert.NotPanics(t, func() {
		pub.Emit(context.Background(), Event{Action: ActionRejected})
	})
	assert.Equal(t, 1, sink.calls)
}
