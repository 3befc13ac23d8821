package provenance

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	cdx "github.com/CycloneDX/cyclonedx-go"
)

// Write encodes bom to path. format is "json", "xml" or "auto" (from the
// extension); the extension must match the chosen format. An empty spec
// writes the library's latest CycloneDX version.
func Write(bom *cdx.BOM, path, format, spec string) error {
	ext := strings.ToLower(filepath.Ext(path))

	actual := strings.ToLower(strings.TrimSpace(format))
	switch actual {
	case "", "auto":
		if ext == ".xml" {
			actual = "xml"
		} else {
			actual = "json"
		}
	case "json", "xml":
	default:
		return fmt.Errorf("unsupported BOM format: %q", format)
	}
	if ext != "."+actual {
		return fmt.Errorf("output path extension %q does not match format %q", ext, actual)
	}

	var sv cdx.SpecVersion
	if spec != "" {
		var ok bool
		if sv, ok = ParseSpecVersion(spec); !ok {
			return fmt.Errorf("unsupported CycloneDX spec version: %q", spec)
		}
	}

	fileFmt := cdx.BOMFileFormatJSON
	if actual == "xml" {
		fileFmt = cdx.BOMFileFormatXML
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create BOM directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := cdx.NewBOMEncoder(f, fileFmt)
	enc.SetPretty(true)
	if spec == "" {
		err = enc.Encode(bom)
	} else {
		err = enc.EncodeVersion(bom, sv)
	}
	if err != nil {
		return fmt.Errorf("encode BOM: %w", err)
	}
	logf("", "wrote %s (%s)", path, actual)
	return nil
}

// ParseSpecVersion accepts the CycloneDX versions that carry ML-BOM fields.
func ParseSpecVersion(s string) (cdx.SpecVersion, bool) {
	switch strings.TrimSpace(s) {
	case "1.5":
		return cdx.SpecVersion1_5, true
	case "1.6":
		return cdx.SpecVersion1_6, true
	default:
		return cdx.SpecVersion1_6, false
	}
}

// Read decodes a BOM written by Write.
func Read(path string) (*cdx.BOM, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fileFmt := cdx.BOMFileFormatJSON
	if strings.EqualFold(filepath.Ext(path), ".xml") {
		fileFmt = cdx.BOMFileFormatXML
	}
	bom := new(cdx.BOM)
	if err := cdx.NewBOMDecoder(f, fileFmt).Decode(bom); err != nil {
		return nil, fmt.Errorf("decode BOM %s: %w", path, err)
	}
	return bom, nil
}
