package rpc

import (
	"reflect"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// SchemaFor infers the input schema of a params struct. Property names come
// from json tags and descriptions from jsonschema tags. A oneof rule in a
// validate tag becomes an enum, on the items when it follows dive.
func SchemaFor[P any]() (*jsonschema.Schema, error) {
	s, err := jsonschema.For[P](nil)
	if err != nil {
		return nil, err
	}
	t := reflect.TypeFor[P]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return s, nil
	}
	for _, f := range reflect.VisibleFields(t) {
		if !f.IsExported() || f.Anonymous {
			continue
		}
		prop := s.Properties[jsonName(f)]
		if prop == nil {
			continue
		}
		applyEnum(prop, f.Tag.Get("validate"))
	}
	return s, nil
}

func applyEnum(prop *jsonschema.Schema, rules string) {
	target := prop
	for _, rule := range strings.Split(rules, ",") {
		if rule == "dive" {
			if prop.Items == nil {
				return
			}
			target = prop.Items
			continue
		}
		values, ok := strings.CutPrefix(rule, "oneof=")
		if !ok {
			continue
		}
		for _, v := range strings.Fields(values) {
			target.Enum = append(target.Enum, v)
		}
	}
}

func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "" {
		return f.Name
	}
	return name
}
