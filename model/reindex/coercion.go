package reindex

import (
	"sort"

	es7 "github.com/olivere/elastic/v7"
)

// FieldCoercion builds the server-side script applied to every document
// while it is copied into the new index. A nil script means documents are
// copied unchanged.
type FieldCoercion interface {
	Script(booleanFieldPaths [][]string) *es7.Script
}

// BooleanFieldPaths returns the paths of every boolean field declared in the
// mapping, descending into object and nested properties. Paths are sorted.
func BooleanFieldPaths(mapping map[string]interface{}) [][]string {
	var paths [][]string
	collectBooleanFields(mapping, nil, &paths)
	return paths
}

func collectBooleanFields(mapping map[string]interface{}, prefix []string, paths *[][]string) {
	properties, ok := mapping["properties"].(map[string]interface{})
	if !ok {
		return
	}
	names := make([]string, 0, len(properties))
	for name := range properties {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		field, ok := properties[name].(map[string]interface{})
		if !ok {
			continue
		}
		path := append(append([]string{}, prefix...), name)
		if field["type"] == "boolean" {
			*paths = append(*paths, path)
			continue
		}
		collectBooleanFields(field, path, paths)
	}
}

// booleanCoercionSource walks each field path through nested maps and lists
// and rewrites legacy boolean values.
const booleanCoercionSource = `
void updateField(Map data, String fieldName) {
  def value = data[fieldName];
  if (value == 'yes' || value == '1' || (value instanceof Integer && value == 1) || value == 'on') {
    data[fieldName] = true;
  } else if (value == 'no' || value == '0' || (value instanceof Integer && value == 0) || value == 'off') {
    data[fieldName] = false;
  }
}

void updateFieldPath(def data, List fieldPath) {
  String pathHead = fieldPath[0];
  if (fieldPath.getLength() == 1) {
    if (data.get(pathHead) !== null) {
      updateField(data, pathHead);
    }
  } else {
    List fieldPathTail = fieldPath.subList(1, fieldPath.getLength());
    if (data.get(pathHead) instanceof List) {
      for (item in data[pathHead]) {
        updateFieldPath(item, fieldPathTail);
      }
    } else if (data.get(pathHead) instanceof Map) {
      updateFieldPath(data[pathHead], fieldPathTail);
    }
  }
}

for (fieldPath in params.booleanFieldPaths) {
  updateFieldPath(ctx._source, fieldPath)
}
`

// PainlessBooleanCoercion normalizes "yes"/"1"/1/"on" to true and
// "no"/"0"/0/"off" to false with a painless script.
type PainlessBooleanCoercion struct{}

// Script implements FieldCoercion.
func (PainlessBooleanCoercion) Script(booleanFieldPaths [][]string) *es7.Script {
	if len(booleanFieldPaths) == 0 {
		return nil
	}
	return es7.NewScript(booleanCoercionSource).
		Lang("painless").
		Param("booleanFieldPaths", booleanFieldPaths)
}
