package output

import (
	"fmt"
	"io"
	"reflect"
	"strings"
	"text/tabwriter"
)

// TextFormatter prints a Value as compact JSON, a struct as aligned
// "Field: value" lines and anything else with fmt.
type TextFormatter struct{}

// Format formats data as text.
func (f *TextFormatter) Format(w io.Writer, data any) error {
	switch d := data.(type) {
	case nil:
		return nil
	case Value:
		_, err := fmt.Fprintln(w, d.String())
		return err
	case fmt.Stringer:
		_, err := fmt.Fprintln(w, d.String())
		return err
	}

	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		_, err := fmt.Fprintln(w, data)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		fmt.Fprintf(tw, "%s:\t%v\n", label(field), v.Field(i).Interface())
	}
	return tw.Flush()
}

// label uses the text tag when present, else the field name.
func label(f reflect.StructField) string {
	if tag := f.Tag.Get("text"); tag != "" {
		return tag
	}
	return strings.TrimSpace(f.Name)
}
