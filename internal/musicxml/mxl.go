package musicxml

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/book-expert/score-service/internal/core"
)

var zipMagic = []byte("PK\x03\x04")

type xmlContainer struct {
	Rootfiles []xmlRootfile `xml:"rootfiles>rootfile"`
}

type xmlRootfile struct {
	FullPath string `xml:"full-path,attr"`
}

// extractNotation returns the notation markup from the input bytes. Plain
// markup passes through; a compressed container is opened and its root
// document extracted.
func extractNotation(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, zipMagic) {
		return data, nil
	}

	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable compressed container: %v", core.ErrMalformedInput, err)
	}

	if path := containerRootfile(reader); path != "" {
		return readArchiveFile(reader, path)
	}

	// Containers without META-INF/container.xml exist in the wild; fall
	// back to the first notation document in the archive.
	for _, file := range reader.File {
		if strings.HasPrefix(file.Name, "META-INF/") {
			continue
		}

		if strings.HasSuffix(file.Name, ".xml") || strings.HasSuffix(file.Name, ".musicxml") {
			return readArchiveFile(reader, file.Name)
		}
	}

	return nil, fmt.Errorf("%w: container holds no notation document", core.ErrMalformedInput)
}

func containerRootfile(reader *zip.Reader) string {
	data, err := readArchiveFile(reader, "META-INF/container.xml")
	if err != nil {
		return ""
	}

	var container xmlContainer

	err = xml.Unmarshal(data, &container)
	if err != nil || len(container.Rootfiles) == 0 {
		return ""
	}

	return container.Rootfiles[0].FullPath
}

func readArchiveFile(reader *zip.Reader, name string) ([]byte, error) {
	file, err := reader.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: container entry '%s': %v", core.ErrMalformedInput, name, err)
	}

	data, readErr := io.ReadAll(file)
	closeErr := file.Close()

	if readErr != nil {
		return nil, fmt.Errorf("%w: reading container entry '%s': %v", core.ErrMalformedInput, name, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("%w: closing container entry '%s': %v", core.ErrMalformedInput, name, closeErr)
	}

	return data, nil
}
