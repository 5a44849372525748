package vm

import (
	"os"

	"github.com/pkg/errors"
)

// LoadImage reads the entire bytecode image at path into memory. The loader
// performs no validation of the byte stream beyond the read itself — bounds
// checking of pc against the image length is the interpreter's
// responsibility at dispatch time (spec §4.G).
func LoadImage(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "loading bytecode image %q", path)
	}
	if len(data) == 0 {
		return nil, errors.Errorf("bytecode image %q is empty", path)
	}
	return data, nil
}
