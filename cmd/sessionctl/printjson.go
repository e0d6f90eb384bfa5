package main

import (
	"encoding/json"
	"fmt"
	"io"
)

func printJson(handle io.Writer, message interface{}) error {
	b, err := json.MarshalIndent(message, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(handle, "%s\n", b)
	return nil
}
