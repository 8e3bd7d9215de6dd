// Package builtin provides the stock commands of the skylink shell.
package builtin

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/stardustapp/skychat-sub000/cmd"
	"github.com/stardustapp/skychat-sub000/data"
)

var (
	folderColor = color.New(color.FgBlue, color.Bold)
	funcColor   = color.New(color.FgGreen)
	errorColor  = color.New(color.FgRed)
)

// Register adds every builtin command to cm.
func Register(cm *cmd.CommandManager) error {
	for _, c := range []cmd.Command{
		&LsCommand{},
		&TreeCommand{},
		&GetCommand{},
		&PutCommand{},
		&InvokeCommand{},
		&SubCommand{},
		&CapsCommand{},
	} {
		if err := cm.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// displayName decodes the last segment of an enumerated record name.
func displayName(record string) string {
	_, last := data.Parent(record)
	if name, err := data.DecodeSegment(last); err == nil {
		return name
	}
	return last
}

func colorName(e *data.Entry, name string) string {
	switch e.Type {
	case data.TypeFolder:
		return folderColor.Sprint(name + "/")
	case data.TypeFunction:
		return funcColor.Sprint(name)
	case data.TypeError:
		return errorColor.Sprint(name)
	}
	return name
}

// summary is the one-line rendition of an entry's value.
func summary(e *data.Entry) string {
	switch e.Type {
	case data.TypeString:
		return e.StringValue
	case data.TypeBlob:
		return fmt.Sprintf("<%s, %d bytes>", e.Mime, len(e.Data))
	case data.TypeError:
		return fmt.Sprintf("%s: %s", e.Authority, e.StringValue)
	case data.TypeFolder:
		if e.Children == nil {
			return ""
		}
		return fmt.Sprintf("%d children", len(e.Children))
	}
	return ""
}

func writeEntry(w io.Writer, e *data.Entry) error {
	switch e.Type {
	case data.TypeString:
		_, err := fmt.Fprintln(w, e.StringValue)
		return err
	case data.TypeBlob:
		_, err := w.Write(e.Data)
		return err
	case data.TypeFolder:
		for _, child := range e.Children {
			fmt.Fprintln(w, colorName(child, child.Name))
		}
		return nil
	case data.TypeError:
		_, err := fmt.Fprintln(w, errorColor.Sprint(summary(e)))
		return err
	}
	_, err := fmt.Fprintf(w, "<%s>\n", strings.ToLower(e.Type.String()))
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// nameOf returns the decoded display name of the last segment of path.
func nameOf(path string) string {
	return displayName(data.Clean(path))
}
