package main

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/svanichkin/lerc"
	"github.com/xfmoulet/qoi"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const usage = `Encode: lerc <input-image> [maxError] [zstd|deflate] [serial]
Decode: lerc <input.lerc> [output.png|output.qoi]
Info:   lerc info <input.lerc>
`

// printer formats byte counts with thousands separators.
var printer = message.NewPrinter(language.English)

func main() {
	args := os.Args[1:]
	if len(args) < 1 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	if args[0] == "info" {
		if len(args) != 2 {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(1)
		}
		if err := printInfo(args[1]); err != nil {
			fmt.Fprintln(os.Stderr, "info error:", err)
			os.Exit(1)
		}
		return
	}

	inputPath := args[0]
	ext := strings.ToLower(filepath.Ext(inputPath))
	base := strings.TrimSuffix(inputPath, filepath.Ext(inputPath))

	// If input is .lerc → decode to PNG (or QOI)
	if ext == ".lerc" {
		outPath := base + ".png"
		if len(args) == 2 {
			outPath = args[1]
		} else if len(args) > 2 {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(1)
		}
		if err := decodeLerc(inputPath, outPath); err != nil {
			fmt.Fprintln(os.Stderr, "decode error:", err)
			os.Exit(1)
		}
		return
	}

	// Otherwise: encode image → .lerc
	opts := lerc.DefaultOptions()
	parallel := true
	for _, arg := range args[1:] {
		switch strings.ToLower(arg) {
		case "zstd":
			opts.Envelope = lerc.EnvelopeZstd
		case "deflate":
			opts.Envelope = lerc.EnvelopeDeflate
		case "serial":
			parallel = false
		default:
			e, err := strconv.ParseFloat(arg, 64)
			if err != nil || e < 0 {
				fmt.Fprintln(os.Stderr, "maxError must be a non-negative number")
				os.Exit(1)
			}
			opts.MaxError = e
		}
	}

	outPath := base + ".lerc"
	if err := encodeToLerc(inputPath, outPath, opts, parallel); err != nil {
		fmt.Fprintln(os.Stderr, "encode error:", err)
		os.Exit(1)
	}
}

func encodeToLerc(inPath, outPath string, opts lerc.Options, parallel bool) error {
	in, err := os.Open(inPath)
	if err != nil {
		return err
	}
	defer in.Close()

	img, format, err := image.Decode(in)
	if err != nil {
		return errors.Wrapf(err, "read %s", inPath)
	}
	r, m := lerc.FromImage(img)

	enc := lerc.NewEncoder()
	enc.Parallel = parallel
	start := time.Now()
	data, err := enc.Encode(context.Background(), r, m, opts)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return errors.WithStack(err)
	}

	raw := r.Len() * r.Type.Size()
	fmt.Printf("Encoded %s (%s, maxError=%g, envelope=%s) → %s\n", inPath, format, opts.MaxError, opts.Envelope, outPath)
	printer.Printf("%d bytes raw, %d bytes encoded, ratio %.2f, %v\n", raw, len(data), float64(raw)/float64(len(data)), elapsed)
	return nil
}

func decodeLerc(inPath, outPath string) error {
	data, err := os.ReadFile(inPath)
	if err != nil {
		return errors.WithStack(err)
	}

	start := time.Now()
	r, m, err := lerc.Decode(data)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	img, err := r.Image(m)
	if err != nil {
		return err
	}

	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	if strings.ToLower(filepath.Ext(outPath)) == ".qoi" {
		err = qoi.Encode(out, img)
	} else {
		err = png.Encode(out, img)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Decoded %s → %s\n", inPath, outPath)
	printer.Printf("%d bytes decoded to %dx%d, %v\n", len(data), r.Width, r.Height, elapsed)
	return nil
}

func printInfo(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.WithStack(err)
	}
	info, err := lerc.GetInfo(data)
	if err != nil {
		return err
	}
	fmt.Printf("version:   %d\n", info.Version)
	fmt.Printf("type:      %s\n", info.Type)
	fmt.Printf("extent:    %dx%d, %d bands, depth %d\n", info.Width, info.Height, info.Bands, info.Depth)
	printer.Printf("valid:     %d pixels\n", info.ValidPixels)
	fmt.Printf("range:     [%g, %g]\n", info.Min, info.Max)
	fmt.Printf("maxError:  %g\n", info.MaxError)
	fmt.Printf("tileSize:  %d\n", info.TileSize)
	fmt.Printf("mask:      %t\n", info.HasMask)
	fmt.Printf("envelope:  %s\n", info.Envelope)
	printer.Printf("blob:      %d bytes (file %d bytes)\n", info.BlobSize, len(data))
	return nil
}
