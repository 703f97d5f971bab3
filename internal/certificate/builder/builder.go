// Package builder maps a decoded CWT claim tree into a typed health certificate.
package builder

import (
	"time"

	"hcert/internal/certificate/certerr"
	"hcert/internal/certificate/document"
	"hcert/internal/certificate/envelope"
	"hcert/internal/certificate/models"
	"hcert/internal/certificate/valuesets"
)

// CWT claim labels.
const (
	claimIssuer    = 1
	claimExpiresAt = 4
	claimIssuedAt  = 6
	claimHCert     = -260
	hcertDCC       = 1
)

// variantOrder is the lookup order for the entry groups; the first non-empty one wins.
var variantOrder = []struct {
	key     string
	variant models.Variant
}{
	{"v", models.VariantVaccination},
	{"t", models.VariantTest},
	{"r", models.VariantRecovery},
}

// Build maps the claim tree into a Certificate. signed is attached to the result for
// later signature verification and may be nil.
func Build(root document.Node, signed *envelope.Envelope) (*models.Certificate, error) {
	if root.Kind() != document.KindMap {
		return nil, certerr.Field("", "claims must be a map, got %s", root.Kind())
	}
	claims := object{node: root}
	r := &reader{}

	cert := &models.Certificate{
		Issuer:    r.text(claims, claimKey(claimIssuer)),
		IssuedAt:  r.timestamp(claims, claimKey(claimIssuedAt)),
		ExpiresAt: r.timestamp(claims, claimKey(claimExpiresAt)),
		Signed:    signed,
	}
	hcert := r.object(claims, claimKey(claimHCert))
	doc := r.object(hcert, claimKey(hcertDCC))
	if r.err != nil {
		return nil, r.err
	}

	cert.Version = r.text(doc, textKey("ver"))
	nam := r.object(doc, textKey("nam"))
	cert.Name = models.Name{
		Given:              r.optionalText(nam, textKey("gn")),
		Family:             r.optionalText(nam, textKey("fn")),
		GivenStandardised:  r.optionalText(nam, textKey("gnt")),
		FamilyStandardised: r.text(nam, textKey("fnt")),
	}
	if dob := r.optionalText(doc, textKey("dob")); dob != "" {
		cert.DateOfBirth = r.parseDate(doc.path(textKey("dob")), dob)
	}
	if r.err != nil {
		return nil, r.err
	}

	entry, err := buildEntry(doc)
	if err != nil {
		return nil, err
	}
	cert.Entry = entry
	return cert, nil
}

func buildEntry(doc object) (models.Entry, error) {
	r := &reader{}
	for _, candidate := range variantOrder {
		key := textKey(candidate.key)
		node, ok := doc.node.Get(key)
		if !ok || node.IsNull() {
			continue
		}
		items, ok := node.Array()
		if !ok {
			return models.Entry{}, certerr.Field(doc.path(key), "expected array, got %s", node.Kind())
		}
		if len(items) == 0 {
			continue
		}
		// Only the first entry is read; the scheme issues one entry per QR code.
		first := object{node: items[0], at: doc.path(key) + "[0]"}
		if items[0].Kind() != document.KindMap {
			return models.Entry{}, certerr.Field(first.at, "expected map, got %s", items[0].Kind())
		}

		entry := models.Entry{
			Kind:    candidate.variant,
			Disease: r.text(first, textKey("tg")),
			Country: r.text(first, textKey("co")),
			Issuer:  r.text(first, textKey("is")),
			UVCI:    r.text(first, textKey("ci")),
		}
		entry.Labels = models.Labels{
			Disease: valuesets.Disease(entry.Disease),
			Country: valuesets.Country(entry.Country),
		}
		switch candidate.variant {
		case models.VariantVaccination:
			v := &models.Vaccination{
				Prophylaxis:  r.text(first, textKey("vp")),
				Product:      r.text(first, textKey("mp")),
				Manufacturer: r.text(first, textKey("ma")),
				DoseNumber:   r.positiveInt(first, textKey("dn")),
				TotalDoses:   r.positiveInt(first, textKey("sd")),
				Date:         r.date(first, textKey("dt")),
			}
			entry.Vaccination = v
			entry.Labels.Prophylaxis = valuesets.Prophylaxis(v.Prophylaxis)
			entry.Labels.Product = valuesets.Product(v.Product)
			entry.Labels.Manufacturer = valuesets.Manufacturer(v.Manufacturer)
		case models.VariantTest:
			t := &models.Test{
				Type:            r.text(first, textKey("tt")),
				Name:            r.optionalText(first, textKey("nm")),
				Device:          r.optionalText(first, textKey("ma")),
				SampleCollected: r.dateTime(first, textKey("sc")),
				Result:          r.text(first, textKey("tr")),
				Facility:        r.text(first, textKey("tc")),
			}
			entry.Test = t
			entry.Labels.TestType = valuesets.TestType(t.Type)
			entry.Labels.TestResult = valuesets.TestResult(t.Result)
		case models.VariantRecovery:
			entry.Recovery = &models.Recovery{
				FirstPositive: r.date(first, textKey("fr")),
				ValidFrom:     r.date(first, textKey("df")),
				ValidUntil:    r.date(first, textKey("du")),
			}
		}
		if r.err != nil {
			return models.Entry{}, r.err
		}
		return entry, nil
	}
	return models.Entry{}, &certerr.Error{
		Kind:    certerr.KindInvalidCertificateType,
		Field:   doc.at,
		Message: "none of v, t or r is present",
	}
}

// object is a map node together with its path from the claim root.
type object struct {
	node document.Node
	at   string
}

func (o object) path(k document.Key) string {
	if o.at == "" {
		return k.String()
	}
	return o.at + "." + k.String()
}

func claimKey(label int64) document.Key { return document.IntKey(label) }
func textKey(name string) document.Key  { return document.TextKey(name) }

// reader records the first field error and turns later reads into no-ops.
type reader struct {
	err error
}

func (r *reader) fail(path, format string, args ...any) {
	if r.err == nil {
		r.err = certerr.Field(path, format, args...)
	}
}

// lookup reads integer claims through Claim so their decimal text label is also
// accepted.
func (r *reader) lookup(o object, k document.Key) (document.Node, bool) {
	if label, ok := k.Label(); ok {
		return o.node.Claim(label)
	}
	return o.node.Get(k)
}

func (r *reader) required(o object, k document.Key) (document.Node, bool) {
	if r.err != nil {
		return document.Node{}, false
	}
	n, ok := r.lookup(o, k)
	if !ok || n.IsNull() {
		r.fail(o.path(k), "required field is missing")
		return document.Node{}, false
	}
	return n, true
}

func (r *reader) text(o object, k document.Key) string {
	n, ok := r.required(o, k)
	if !ok {
		return ""
	}
	s, ok := n.Text()
	if !ok {
		r.fail(o.path(k), "expected text, got %s", n.Kind())
	}
	return s
}

func (r *reader) optionalText(o object, k document.Key) string {
	if r.err != nil {
		return ""
	}
	n, ok := r.lookup(o, k)
	if !ok || n.IsNull() {
		return ""
	}
	s, ok := n.Text()
	if !ok {
		r.fail(o.path(k), "expected text, got %s", n.Kind())
	}
	return s
}

func (r *reader) positiveInt(o object, k document.Key) int {
	n, ok := r.required(o, k)
	if !ok {
		return 0
	}
	v, ok := n.Int()
	if !ok {
		r.fail(o.path(k), "expected integer, got %s", n.Kind())
		return 0
	}
	if v < 1 || v > 1<<16 {
		r.fail(o.path(k), "value %d out of range", v)
		return 0
	}
	return int(v)
}

func (r *reader) timestamp(o object, k document.Key) time.Time {
	n, ok := r.required(o, k)
	if !ok {
		return time.Time{}
	}
	v, ok := n.Int()
	if !ok {
		r.fail(o.path(k), "expected integer seconds, got %s", n.Kind())
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}

func (r *reader) object(o object, k document.Key) object {
	n, ok := r.required(o, k)
	if !ok {
		return object{}
	}
	if n.Kind() != document.KindMap {
		r.fail(o.path(k), "expected map, got %s", n.Kind())
		return object{}
	}
	return object{node: n, at: o.path(k)}
}

func (r *reader) date(o object, k document.Key) models.PartialDate {
	s := r.text(o, k)
	if r.err != nil {
		return models.PartialDate{}
	}
	return r.parseDate(o.path(k), s)
}

func (r *reader) parseDate(path, s string) models.PartialDate {
	d, err := models.ParsePartialDate(s)
	if err != nil {
		r.fail(path, "%v", err)
	}
	return d
}

func (r *reader) dateTime(o object, k document.Key) time.Time {
	s := r.text(o, k)
	if r.err != nil {
		return time.Time{}
	}
	t, err := parseDateTime(s)
	if err != nil {
		r.fail(o.path(k), "expected a full date-time, got %q", s)
		return time.Time{}
	}
	return t.UTC()
}

// Issuers also write basic offsets (+0200, +02) and leave the offset out, which is
// read as UTC.
var dateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05Z07",
	"2006-01-02T15:04:05",
}

func parseDateTime(s string) (time.Time, error) {
	var err error
	for _, layout := range dateTimeLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}
