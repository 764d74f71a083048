// Package errorformat streams a checker's raw stdout into Block
// Records, grouping multi-line diagnostics under the anchor line that
// started them. See spec §4.2.
package errorformat

import (
	"bufio"
	"context"
	"io"

	"tuick/internal/ansiutil"
	"tuick/internal/block"
)

// maxLineSize bounds a single line of checker output. Diagnostic
// lines are occasionally long (embedded code snippets, JSON blobs)
// but an unbounded buffer would let a misbehaving checker exhaust
// memory.
const maxLineSize = 1 << 20 // 1 MiB

// Parse reads r line by line, matches each line against recipe's
// anchor pattern, and emits completed Block Records on out in the
// order they close. Parse never buffers more than one open block:
// every completed block is sent to out before more input is read, so
// a blocked receiver applies back-pressure all the way to the
// checker's stdout pipe.
//
// A line that anchors a new location closes any open block and starts
// a new one. A line that does not anchor is appended to the currently
// open block's Content (joined by "\n"); if no block is open, it
// becomes a single-line informational block (all location fields
// absent). Parse never drops input, per spec §4.2's failure policy.
//
// Parse returns when r reaches EOF, ctx is cancelled, or a send on out
// blocks past ctx cancellation. The final open block, if any, is
// flushed before returning.
func Parse(ctx context.Context, r io.Reader, recipe Recipe, out chan<- block.Record) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var open *block.Record

	flush := func() error {
		if open == nil {
			return nil
		}
		rec := *open
		open = nil
		select {
		case out <- rec:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Text()
		stripped := ansiutil.Strip(line)

		if stripped == "" {
			// Blank line closes the current block (spec §4.2).
			if err := flush(); err != nil {
				return err
			}
			continue
		}

		match := recipe.Anchor.FindStringSubmatch(stripped)
		if match != nil {
			if err := flush(); err != nil {
				return err
			}
			open = newAnchoredBlock(recipe, match, line)
			continue
		}

		// Continuation or informational line.
		if open != nil {
			open.Content += "\n" + line
			continue
		}
		select {
		case out <- block.Record{Content: line}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := flush(); err != nil {
		return err
	}
	return scanner.Err()
}

func newAnchoredBlock(recipe Recipe, match []string, originalLine string) *block.Record {
	rec := &block.Record{Content: originalLine}
	names := recipe.Anchor.SubexpNames()
	for i, name := range names {
		if i == 0 || i >= len(match) {
			continue
		}
		switch name {
		case "file":
			rec.File = match[i]
		case "line":
			rec.Line = parseFieldOrZero(match[i])
		case "col":
			rec.Col = parseFieldOrZero(match[i])
		case "endline":
			rec.EndLine = parseFieldOrZero(match[i])
		case "endcol":
			rec.EndCol = parseFieldOrZero(match[i])
		}
	}
	return rec
}

func parseFieldOrZero(s string) block.Field {
	if s == "" {
		return block.Field{}
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return block.Field{}
		}
		n = n*10 + int(c-'0')
	}
	return block.Set(n)
}
