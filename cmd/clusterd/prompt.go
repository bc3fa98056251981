package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// promptRange reads "start end" from r. Either whitespace or a comma
// separates the two heights.
func promptRange(r io.Reader, w io.Writer) (start, end uint64, err error) {
	fmt.Fprint(w, "Enter start and end block height: ")
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return 0, 0, fmt.Errorf("reading range: %w", err)
	}
	fields := strings.FieldsFunc(line, func(c rune) bool {
		return c == ',' || c == ' ' || c == '\t' || c == '\r' || c == '\n'
	})
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("expected two heights, got %q", strings.TrimSpace(line))
	}
	if start, err = strconv.ParseUint(fields[0], 10, 64); err != nil {
		return 0, 0, fmt.Errorf("start height: %w", err)
	}
	if end, err = strconv.ParseUint(fields[1], 10, 64); err != nil {
		return 0, 0, fmt.Errorf("end height: %w", err)
	}
	if start > end {
		return 0, 0, fmt.Errorf("start %d is after end %d", start, end)
	}
	return start, end, nil
}
