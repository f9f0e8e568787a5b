package main

import "strings"

// multiFlag collects repeated occurrences of a flag into a slice, the
// same shape tools/silexa/images.go uses for its repeatable flags.
type multiFlag []string

func (m *multiFlag) String() string {
	return strings.Join(*m, ",")
}

func (m *multiFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}
