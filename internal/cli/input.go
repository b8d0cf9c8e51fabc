package cli

import (
	"fmt"
	"strings"

	"github.com/rowpane/rowpane/internal/dao"
	"github.com/rowpane/rowpane/internal/jsonrepair"
)

// parseRow decodes a JSON object given on the command line.
func parseRow(flag, input string) (dao.Row, error) {
	v, err := jsonrepair.ParseOrRepair(input)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", flag, err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("--%s must be a JSON object", flag)
	}
	return dao.Row(m), nil
}

// parseKeys decodes one primary key object or an array of them.
func parseKeys(input string) ([]dao.Row, error) {
	v, err := jsonrepair.ParseOrRepair(input)
	if err != nil {
		return nil, fmt.Errorf("--key: %w", err)
	}
	switch t := v.(type) {
	case map[string]any:
		return []dao.Row{t}, nil
	case []any:
		keys := make([]dao.Row, 0, len(t))
		for i, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("--key: element %d is not an object", i)
			}
			keys = append(keys, m)
		}
		if len(keys) == 0 {
			return nil, fmt.Errorf("--key: no primary keys given")
		}
		return keys, nil
	}
	return nil, fmt.Errorf("--key must be a JSON object or array of objects")
}

// parseFilter reads field:criteria:value. The value may contain colons.
func parseFilter(s string) (dao.FilterSpec, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] == "" {
		return dao.FilterSpec{}, fmt.Errorf("filter %q must look like field:criteria:value", s)
	}
	c := dao.Criteria(parts[1])
	if !c.Known() {
		return dao.FilterSpec{}, fmt.Errorf("filter %q: unknown criteria %q", s, parts[1])
	}
	return dao.FilterSpec{Field: parts[0], Criteria: c.Normalize(), Value: parts[2]}, nil
}
