package enumerate

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/stardustapp/skychat-sub000/data"
)

func sampleTree() *data.Entry {
	return data.NewFolder("",
		data.NewString("motd", "hello"),
		data.NewFolder("a b",
			data.NewFolder("inner",
				data.NewString("deep", "x"),
			),
		),
	)
}

func TestWalkDepthBudget(tst *testing.T) {
	tests := []struct {
		depth int
		want  []string
	}{
		{0, []string{""}},
		{1, []string{"", "motd", "a%20b"}},
		{2, []string{"", "motd", "a%20b", "a%20b/inner"}},
		{5, []string{"", "motd", "a%20b", "a%20b/inner", "a%20b/inner/deep"}},
	}

	for _, tt := range tests {
		e := New(tt.depth)
		e.Walk(sampleTree())

		var got []string
		for _, rec := range e.Results() {
			got = append(got, rec.Name)
			if rec.Type == data.TypeFolder && rec.Children != nil {
				tst.Errorf("Expected visited folder %q to be shallow", rec.Name)
			}
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			tst.Errorf("depth %d mismatch (-want +got):\n%s", tt.depth, diff)
		}
	}
}

func TestReconstruct(tst *testing.T) {
	e := New(2)
	e.Walk(sampleTree())

	root := e.Reconstruct()
	want := data.NewFolder("",
		data.NewString("motd", "hello"),
		data.NewFolder("a b",
			data.NewFolderStub("inner"),
		),
	)

	if !root.Equal(want) {
		tst.Errorf("Expected %+v, got %+v", want, root)
	}
}

func TestAscendAboveRootPanics(tst *testing.T) {
	defer func() {
		if _, ok := data.AsProtocolBug(recover()); !ok {
			tst.Errorf("Expected ProtocolBug panic")
		}
	}()

	New(1).Ascend()
}
