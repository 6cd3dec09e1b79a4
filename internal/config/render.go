package config

import (
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
)

// RenderSettings writes the non-default parts of s as HCL. Paths are written
// as given, so callers should pass settings built from literal values.
func RenderSettings(s *Settings) []byte {
	f := hclwrite.NewEmptyFile()
	body := f.Body()

	setString := func(b *hclwrite.Body, name, value, def string) {
		if value != "" && value != def {
			b.SetAttributeValue(name, cty.StringVal(value))
		}
	}

	setString(body, "backend", s.Backend, "")
	setString(body, "chain", s.Chain, "")
	if s.Backend == "nftables" {
		setString(body, "table", s.Table, "")
		setString(body, "family", s.Family, DefaultFamily)
	}
	setString(body, "protocol", s.Protocol, DefaultProtocol)
	if s.MaxRules != 0 && s.MaxRules != DefaultMaxRules {
		body.SetAttributeValue("max_rules", cty.NumberIntVal(int64(s.MaxRules)))
	}

	if r := s.Resolver; r != nil && (r.Mode != "" || len(r.Servers) > 0) {
		body.AppendNewline()
		rb := body.AppendNewBlock("resolver", nil).Body()
		setString(rb, "mode", r.Mode, "")
		if len(r.Servers) > 0 {
			vals := make([]cty.Value, len(r.Servers))
			for i, srv := range r.Servers {
				vals[i] = cty.StringVal(srv)
			}
			rb.SetAttributeValue("servers", cty.ListVal(vals))
		}
		setString(rb, "timeout", r.Timeout, DefaultResolverTimeout.String())
	}

	if l := s.Log; l != nil && (l.Level != "" || l.JSON) {
		body.AppendNewline()
		lb := body.AppendNewBlock("log", nil).Body()
		setString(lb, "level", l.Level, "")
		if l.JSON {
			lb.SetAttributeValue("json", cty.BoolVal(true))
		}
	}

	if m := s.Metrics; m != nil && m.Textfile != "" {
		body.AppendNewline()
		body.AppendNewBlock("metrics", nil).Body().SetAttributeValue("textfile", cty.StringVal(m.Textfile))
	}

	return hclwrite.Format(f.Bytes())
}
