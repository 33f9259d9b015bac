package criteria

import (
	"github.com/viant/ktask/service/dao"
)

// Match reports whether value satisfies every parameter named name.
// Parameters with other names are ignored.
func Match(name, value string, parameters []*dao.Parameter) bool {
	for _, parameter := range parameters {
		if parameter == nil || parameter.Name != name {
			continue
		}
		switch actual := parameter.Value.(type) {
		case string:
			if value != actual {
				return false
			}
		case []string:
			found := false
			for _, candidate := range actual {
				if value == candidate {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}
