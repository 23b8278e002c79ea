// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assets

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
)

// compressibleExts are the asset extensions worth precompressing. Media
// formats carry their own compression and are skipped.
var compressibleExts = map[string]bool{
	".css":  true,
	".html": true,
	".ico":  true,
	".js":   true,
	".json": true,
	".mjs":  true,
	".svg":  true,
	".txt":  true,
	".wasm": true,
	".xml":  true,
}

// precompressMin is the smallest file size worth a precompressed variant.
const precompressMin = 1024

// Precompress walks an asset tree and writes .gz and .br variants alongside
// every compressible file, for the runtime's content-negotiated static
// responders. Variants that would not shrink the file are discarded.
func Precompress(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if !compressibleExts[filepath.Ext(path)] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() < precompressMin {
			return nil
		}
		if err := writeGzip(path, info.Size()); err != nil {
			return err
		}
		return writeBrotli(path, info.Size())
	})
}

func writeGzip(path string, size int64) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	gw, err := gzip.NewWriterLevel(out, gzip.BestCompression)
	if err != nil {
		out.Close()
		return err
	}
	if _, err := gw.Write(data); err != nil {
		gw.Close()
		out.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return dropIfLarger(path+".gz", size)
}

func writeBrotli(path string, size int64) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out, err := os.Create(path + ".br")
	if err != nil {
		return err
	}
	bw := brotli.NewWriterLevel(out, brotli.BestCompression)
	if _, err := bw.Write(data); err != nil {
		bw.Close()
		out.Close()
		return err
	}
	if err := bw.Close(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return dropIfLarger(path+".br", size)
}

// dropIfLarger removes a variant that failed to beat the original.
func dropIfLarger(variant string, original int64) error {
	info, err := os.Stat(variant)
	if err != nil {
		return err
	}
	if info.Size() >= original {
		return os.Remove(variant)
	}
	return nil
}
