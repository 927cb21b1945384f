package main

import (
	"encoding/json"
	"reflect"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

// writeJSON prints v as indented JSON on stdout. A nil slice prints as []
// so scripts can always iterate the result.
func writeJSON(cmd *cobra.Command, v any) error {
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Slice && rv.IsNil() {
		v = []struct{}{}
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode json output")
	}
	_, err = cmd.OutOrStdout().Write(append(data, '\n'))
	return err
}
