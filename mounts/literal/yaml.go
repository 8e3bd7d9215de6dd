package literal

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/stardustapp/skychat-sub000/data"
)

// YAML tags understood by Load besides the core schema.
const (
	TagBlob     = "!blob"
	TagFunction = "!function"
	TagError    = "!error"
	tagBinary   = "!!binary"
	tagNull     = "!!null"
)

// Load decodes a YAML document into a folder named name.
//
// Mappings become folders in document order, sequences become folders with
// 1-based index names and every other scalar becomes a string. Null values
// are skipped. A mapping tagged !blob with "mime" and "data" keys, or a
// !!binary scalar, becomes a blob; a scalar tagged !function becomes a
// function node to be bound with Tree.Register, and !error an error entry.
func Load(r io.Reader, name string) (*data.Entry, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return data.NewFolder(name), nil
		}
		return nil, fmt.Errorf("%w: literal yaml: %v", data.ErrInvalid, err)
	}

	root, err := fromNode(&doc, name)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return data.NewFolder(name), nil
	}
	if root.Type != data.TypeFolder {
		return nil, fmt.Errorf("%w: literal yaml root must be a mapping, got %s", data.ErrInvalid, root.Type)
	}
	return root, nil
}

// LoadFile reads a YAML file with Load.
func LoadFile(path string) (*data.Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Load(bytes.NewReader(raw), "")
}

func fromNode(n *yaml.Node, name string) (*data.Entry, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return fromNode(n.Content[0], name)

	case yaml.AliasNode:
		return fromNode(n.Alias, name)

	case yaml.MappingNode:
		if n.Tag == TagBlob {
			return blobFromMapping(n, name)
		}
		folder := data.NewFolder(name)
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i]
			if key.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("%w: line %d: folder keys must be scalars", data.ErrInvalid, key.Line)
			}
			if _, dup := folder.Child(key.Value); dup {
				return nil, fmt.Errorf("%w: line %d: duplicate key '%s'", data.ErrInvalid, key.Line, key.Value)
			}
			child, err := fromNode(n.Content[i+1], key.Value)
			if err != nil {
				return nil, err
			}
			if child != nil {
				folder.Children = append(folder.Children, child)
			}
		}
		return folder, nil

	case yaml.SequenceNode:
		folder := data.NewFolder(name)
		index := 0
		for _, item := range n.Content {
			child, err := fromNode(item, strconv.Itoa(index+1))
			if err != nil {
				return nil, err
			}
			if child != nil {
				index++
				folder.Children = append(folder.Children, child.WithName(strconv.Itoa(index)))
			}
		}
		return folder, nil

	case yaml.ScalarNode:
		switch n.Tag {
		case tagNull:
			return nil, nil
		case TagFunction:
			return data.NewFunction(name), nil
		case TagError:
			return data.NewError(name, "literal", n.Value), nil
		case tagBinary:
			raw, err := base64.StdEncoding.DecodeString(n.Value)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", data.ErrInvalid, n.Line, err)
			}
			return data.NewBlob(name, "application/octet-stream", raw), nil
		}
		return data.NewString(name, n.Value), nil
	}

	return nil, fmt.Errorf("%w: line %d: unsupported yaml node", data.ErrInvalid, n.Line)
}

func blobFromMapping(n *yaml.Node, name string) (*data.Entry, error) {
	mime := "text/plain"
	var payload []byte
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, value := n.Content[i], n.Content[i+1]
		switch key.Value {
		case "mime":
			mime = value.Value
		case "data":
			payload = []byte(value.Value)
		case "base64":
			raw, err := base64.StdEncoding.DecodeString(value.Value)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", data.ErrInvalid, value.Line, err)
			}
			payload = raw
		default:
			return nil, fmt.Errorf("%w: line %d: unknown blob key '%s'", data.ErrInvalid, key.Line, key.Value)
		}
	}
	if payload == nil {
		payload = []byte{}
	}
	return data.NewBlob(name, mime, payload), nil
}
