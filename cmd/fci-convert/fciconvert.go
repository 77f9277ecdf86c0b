// Copyright 2023 Michael Stapelberg and contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Program fci-convert converts images to FCI streams (and back) on the
// command line, without a running img2oled daemon. It doubles as a
// diagnostic tool: -tokens prints the token stream of an encoding.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/stapelberg/img2oled/internal/convert"
	"github.com/stapelberg/img2oled/internal/fci"
	"golang.org/x/sync/errgroup"
)

var (
	decode = flag.Bool("decode",
		false,
		"decode FCI input files instead of encoding images")

	ascii = flag.Bool("ascii",
		false,
		"print the (converted or decoded) image as ASCII art to stdout instead of writing an output file")

	tokens = flag.Bool("tokens",
		false,
		"print the token stream and per-branch counts of each encoding to stderr")

	output = flag.String("o",
		"",
		"output file name; only permitted with a single input file. The default derives the name from the input (.fci when encoding, .png when decoding)")

	width  = flag.Int("width", 128, "target width in pixels (1-255)")
	height = flag.Int("height", 64, "target height in pixels (1-255)")
	dither = flag.Bool("dither", false, "Floyd-Steinberg dithering instead of thresholding")
	invert = flag.Bool("invert", false, "swap lit and unlit pixels")
	fit    = flag.String("fit", "stretch", "how to fit the source into the target dimensions: stretch or letterbox")

	caption = flag.String("caption", "", "text to overlay at the bottom of the frame")
)

func outputName(input, ext string) string {
	if *output != "" {
		return *output
	}
	base := strings.TrimSuffix(input, filepath.Ext(input))
	return base + ext
}

// printTokens prints the token stream to stderr, followed by a summary of
// how often each encoder branch was taken.
func printTokens(input string, ts []fci.Token) {
	var longRuns, dualRuns, escapes, verbatims int
	for _, t := range ts {
		fmt.Fprintf(os.Stderr, "%s: %v\n", input, t)
		switch t.(type) {
		case fci.LongRun:
			longRuns++
		case fci.DualRun:
			dualRuns++
		case fci.Escape:
			escapes++
		case fci.Verbatim:
			verbatims++
		}
	}
	fmt.Fprintf(os.Stderr, "%s: %d tokens: %d longrun, %d dualrun, %d escape, %d verbatim\n",
		input, len(ts), longRuns, dualRuns, escapes, verbatims)
}

func encode1(input string) error {
	b, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	o := convert.Options{
		Width:   *width,
		Height:  *height,
		Dither:  *dither,
		Invert:  *invert,
		Caption: *caption,
	}
	if *fit == "letterbox" {
		o.Fit = convert.Letterbox
	}
	m, err := convert.FromBytes(b, o)
	if err != nil {
		return fmt.Errorf("%s: %v", input, err)
	}
	if *tokens {
		printTokens(input, fci.Tokenize(m))
	}
	if *ascii {
		fmt.Print(m.String())
		return nil
	}
	var buf bytes.Buffer
	if err := fci.Encode(&buf, m); err != nil {
		return fmt.Errorf("%s: %v", input, err)
	}
	fn := outputName(input, ".fci")
	if err := os.WriteFile(fn, buf.Bytes(), 0644); err != nil {
		return err
	}
	packed := (m.W*m.H + 7) / 8
	log.Printf("%s: %dx%d, %d bytes (packed: %d bytes)", fn, m.W, m.H, buf.Len(), packed)
	return nil
}

func decode1(input string) error {
	f, err := os.Open(input)
	if err != nil {
		return err
	}
	defer f.Close()
	m, err := fci.Decode(f)
	if err != nil {
		return fmt.Errorf("%s: %v", input, err)
	}
	if *tokens {
		printTokens(input, fci.Tokenize(m))
	}
	if *ascii {
		fmt.Print(m.String())
		return nil
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, m); err != nil {
		return err
	}
	fn := outputName(input, ".png")
	if err := os.WriteFile(fn, buf.Bytes(), 0644); err != nil {
		return err
	}
	log.Printf("%s: %dx%d", fn, m.W, m.H)
	return nil
}

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		log.Fatal("Syntax: fci-convert [flags] <image file>...")
	}
	if *output != "" && flag.NArg() > 1 {
		log.Fatal("-o is only permitted with a single input file")
	}

	var eg errgroup.Group
	eg.SetLimit(runtime.NumCPU())
	for _, input := range flag.Args() {
		input := input // copy
		eg.Go(func() error {
			if *decode {
				return decode1(input)
			}
			return encode1(input)
		})
	}
	if err := eg.Wait(); err != nil {
		log.Fatal(err)
	}
}
