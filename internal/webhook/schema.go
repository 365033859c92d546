package webhook

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// Field kinds used by strict payload validation.
const (
	kindString = "string"
	kindInt    = "positive_int"
	kindExists = "exists"
)

type fieldCheck struct {
	path string
	kind string
}

// validate checks the payload against the required fields of one event type
// and names the first failing field.
func validate(doc gjson.Result, checks []fieldCheck) error {
	for _, c := range checks {
		v := doc.Get(c.path)
		switch c.kind {
		case kindString:
			if v.Type != gjson.String || v.String() == "" {
				return fmt.Errorf("invalid payload: missing or invalid field %q", c.path)
			}
		case kindInt:
			if v.Type != gjson.Number || v.Int() <= 0 {
				return fmt.Errorf("invalid payload: missing or invalid field %q", c.path)
			}
		case kindExists:
			if !v.Exists() {
				return fmt.Errorf("invalid payload: missing field %q", c.path)
			}
		}
	}
	return nil
}
