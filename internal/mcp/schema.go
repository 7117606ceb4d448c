package mcp

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/invopop/jsonschema"
)

// Schema JSON Schema аргументов инструмента
type Schema = jsonschema.Schema

var reflector = &jsonschema.Reflector{
	Anonymous:                  true,
	DoNotReference:             true,
	ExpandedStruct:             true,
	RequiredFromJSONSchemaTags: true,
}

// SchemaFor строит схему по типу аргументов. Типы и имена полей берутся из
// json, поверх них переносятся теги desc (описание), default (значение по
// умолчанию) и validate (required, oneof, min, max, dive для элементов массива).
func SchemaFor(t reflect.Type) (*Schema, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("аргументы инструмента должны быть структурой, получено %s", t.Kind())
	}

	s := reflector.ReflectFromType(t)
	s.Version = ""
	s.Required = nil
	if s.Properties == nil {
		return s, nil
	}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name, ok := jsonName(field)
		if !ok {
			continue
		}
		prop, ok := s.Properties.Get(name)
		if !ok {
			continue
		}

		prop.Description = field.Tag.Get("desc")
		if def, ok := field.Tag.Lookup("default"); ok {
			prop.Default = defaultValue(field.Type, def)
		}
		if applyValidate(prop, field.Tag.Get("validate")) {
			s.Required = append(s.Required, name)
		}
	}
	return s, nil
}

// applyValidate переносит ограничения validator в схему; возвращает признак required
func applyValidate(s *Schema, tag string) bool {
	if tag == "" {
		return false
	}
	required := false
	target := s
	for _, rule := range strings.Split(tag, ",") {
		name, arg, _ := strings.Cut(rule, "=")
		switch name {
		case "required":
			required = true
		case "dive":
			// последующие правила относятся к элементам массива
			if s.Items != nil {
				target = s.Items
			}
		case "oneof":
			for _, v := range strings.Fields(arg) {
				target.Enum = append(target.Enum, v)
			}
		case "min", "gte":
			if target.Type == "array" {
				if n, err := strconv.ParseUint(arg, 10, 64); err == nil {
					target.MinItems = &n
				}
			} else if numeric(target, arg) {
				target.Minimum = json.Number(arg)
			}
		case "gt":
			if numeric(target, arg) {
				target.ExclusiveMinimum = json.Number(arg)
			}
		case "max", "lte":
			if numeric(target, arg) {
				target.Maximum = json.Number(arg)
			}
		case "lt":
			if numeric(target, arg) {
				target.ExclusiveMaximum = json.Number(arg)
			}
		}
	}
	return required
}

func numeric(s *Schema, arg string) bool {
	if _, err := strconv.ParseFloat(arg, 64); err != nil {
		return false
	}
	return s.Type == "number" || s.Type == "integer"
}

func jsonName(f reflect.StructField) (string, bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		name = f.Name
	}
	return name, true
}

// defaultValue разбирает тег default в значение типа поля; для массивов
// элементы перечисляются через запятую
func defaultValue(t reflect.Type, raw string) any {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Slice:
		var out []any
		for _, part := range strings.Split(raw, ",") {
			out = append(out, defaultValue(t.Elem(), strings.TrimSpace(part)))
		}
		return out
	case reflect.Bool:
		v, _ := strconv.ParseBool(raw)
		return v
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		v, _ := strconv.ParseInt(raw, 10, 64)
		return v
	case reflect.Float32, reflect.Float64:
		v, _ := strconv.ParseFloat(raw, 64)
		return v
	}
	return raw
}

// applyDefaults заполняет поля значениями из тега default
func applyDefaults(v reflect.Value) error {
	for v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		raw, ok := field.Tag.Lookup("default")
		if !ok || !field.IsExported() {
			continue
		}
		data, err := json.Marshal(defaultValue(field.Type, raw))
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, v.Field(i).Addr().Interface()); err != nil {
			return fmt.Errorf("неверное значение по умолчанию для %s: %w", field.Name, err)
		}
	}
	return nil
}
