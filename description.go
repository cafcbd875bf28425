package psychics

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DescriptionFile is the name of the description entry inside a bundle.
	DescriptionFile = "ability.yml"

	// BundleExt is the file extension of ability bundles.
	BundleExt = ".zip"
)

// Description is the metadata packaged with an ability bundle.
// It is immutable once parsed; ID is the dedup and lookup key.
type Description struct {
	ID      string   `yaml:"id"`
	Main    string   `yaml:"main"`
	Version string   `yaml:"version"`
	Text    []string `yaml:"description"`
	Authors []string `yaml:"authors"`
}

// ParseDescription decodes and validates a description document.
func ParseDescription(data []byte) (Description, error) {
	var d Description
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Description{}, &ParseError{Key: DescriptionFile, Err: err}
	}

	d.ID = strings.TrimSpace(d.ID)
	d.Main = strings.TrimSpace(d.Main)
	d.Version = strings.TrimSpace(d.Version)

	switch {
	case d.ID == "":
		return Description{}, &ParseError{Key: "id", Err: errors.New("id is undefined")}
	case d.Main == "":
		return Description{}, &ParseError{Key: "main", Err: errors.New("main is undefined")}
	case d.Version == "":
		return Description{}, &ParseError{Key: "version", Err: errors.New("version is undefined")}
	}
	return d, nil
}

// ReadBundleDescription opens a bundle archive and parses its description entry.
func ReadBundleDescription(path string) (Description, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return Description{}, &ParseError{File: path, Err: err}
	}
	defer zr.Close()

	f, err := zr.Open(DescriptionFile)
	if err != nil {
		return Description{}, &ParseError{File: path, Err: fmt.Errorf("%w: %v", ErrDescriptionMissing, err)}
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return Description{}, &ParseError{File: path, Err: err}
	}

	d, err := ParseDescription(data)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.File = path
		}
		return Description{}, err
	}
	return d, nil
}

// clone returns a deep copy so callers can never mutate a module's description.
func (d Description) clone() Description {
	d.Text = append([]string(nil), d.Text...)
	d.Authors = append([]string(nil), d.Authors...)
	return d
}
