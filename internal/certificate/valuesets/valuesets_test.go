package valuesets

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type ValueSetsSuite struct {
	suite.Suite
}

func TestValueSetsSuite(t *testing.T) {
	suite.Run(t, new(ValueSetsSuite))
}

func (s *ValueSetsSuite) TestKnownCodes() {
	s.Equal("COVID-19", Disease("840539006"))
	s.Equal("SARS-CoV-2 mRNA vaccine", Prophylaxis("1119349007"))
	s.Equal("Comirnaty", Product("EU/1/20/1528"))
	s.Equal("Covaxin (also known as BBV152 A, B, C)", Product("Covaxin"))
	s.Equal("Biontech Manufacturing GmbH", Manufacturer("ORG-100030215"))
	s.Equal("Negative", TestResult("260415000"))
	s.Equal("Positive", TestResult("260373001"))
	s.Equal("Rapid immunoassay", TestType("LP217198-3"))
}

func (s *ValueSetsSuite) TestUnknownCodes() {
	s.Equal("Unknown (123)", Disease("123"))
	s.Equal("Unknown (EU/9/99/0000)", Product("EU/9/99/0000"))
	s.Equal("Unknown (ORG-1)", Manufacturer("ORG-1"))
	s.Equal("Unknown (LP0000-0)", TestType("LP0000-0"))
	s.Equal("Unknown ()", Prophylaxis(""))
}

func (s *ValueSetsSuite) TestCountry() {
	s.Equal("Germany", Country("DE"))
	s.Equal("Netherlands", Country("NL"))
	s.Equal("Unknown (??)", Country("??"))
	s.Equal("Unknown (XX)", Country("XX"))
	s.Equal("Unknown ()", Country(""))

	s.Run("regions that are not countries", func() {
		s.Equal("Unknown (ZZ)", Country("ZZ"))
		s.Equal("Unknown (419)", Country("419"))
	})
}
