package imagezip

import (
	"archive/zip"
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type entry struct {
	name string
	data []byte
}

func buildZip(t *testing.T, entries ...entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		if err != nil {
			t.Fatal(err)
		}
		if e.data != nil {
			w.Write(e.data)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func names(images []Image) []string {
	out := make([]string, len(images))
	for i, img := range images {
		out[i] = img.Name
	}
	return out
}

func tinyPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestParse_NumericOrder(t *testing.T) {
	// WHAT: digits compare as numbers, not strings.
	// WHY: Gaoding names exports image_1..image_N; lexical order breaks at 10.
	data := buildZip(t,
		entry{"image_10.png", []byte("10")},
		entry{"image_2.png", []byte("2")},
		entry{"image_1.png", []byte("1")},
	)
	images, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"image_1.png", "image_2.png", "image_10.png"}, names(images)); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
	if string(images[2].Data) != "10" {
		t.Errorf("data not preserved: %q", images[2].Data)
	}
}

func TestParse_NoDigitsSortFirst(t *testing.T) {
	data := buildZip(t,
		entry{"img3.jpg", nil},
		entry{"cover.png", nil},
		entry{"img1.jpg", nil},
	)
	images, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"cover.png", "img1.jpg", "img3.jpg"}, names(images)); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
}

func TestParse_StableTies(t *testing.T) {
	data := buildZip(t,
		entry{"b_1.png", nil},
		entry{"a_1.png", nil},
		entry{"c_0.png", nil},
	)
	images, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"c_0.png", "b_1.png", "a_1.png"}, names(images)); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
}

func TestParse_FiltersEntries(t *testing.T) {
	data := buildZip(t,
		entry{"out/", nil},
		entry{"out/1.PNG", nil},
		entry{"out/2.Jpeg", nil},
		entry{"out/3.gif", nil},
		entry{"out/4.webp", nil},
		entry{"out/5.bmp", nil},
		entry{"readme.txt", []byte("hi")},
		entry{"__MACOSX/", nil},
		entry{"noext", nil},
	)
	images, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"out/1.PNG", "out/2.Jpeg", "out/3.gif", "out/4.webp"}
	if diff := cmp.Diff(want, names(images)); diff != "" {
		t.Errorf("images (-want +got):\n%s", diff)
	}
}

func TestParse_Empty(t *testing.T) {
	images, err := Parse(buildZip(t, entry{"notes.txt", []byte("x")}))
	if err != nil {
		t.Fatal(err)
	}
	if images == nil || len(images) != 0 {
		t.Fatalf("got %v, want empty slice", images)
	}
}

func TestParse_Malformed(t *testing.T) {
	for _, data := range [][]byte{nil, []byte("not a zip at all")} {
		if _, err := Parse(data); !errors.Is(err, ErrMalformedArchive) {
			t.Errorf("err = %v, want ErrMalformedArchive", err)
		}
	}
}

func TestParse_Limits(t *testing.T) {
	data := buildZip(t, entry{"1.png", bytes.Repeat([]byte{'x'}, 2048)})

	p := NewParser(Config{MaxArchiveBytes: 16})
	if _, err := p.Parse(data); !errors.Is(err, ErrTooLarge) {
		t.Errorf("archive limit: err = %v", err)
	}

	p = NewParser(Config{MaxEntryBytes: 1024})
	if _, err := p.Parse(data); !errors.Is(err, ErrTooLarge) {
		t.Errorf("entry limit: err = %v", err)
	}
}

func TestParse_ProbesDimensions(t *testing.T) {
	data := buildZip(t,
		entry{"1.png", tinyPNG(t, 3, 2)},
		entry{"2.png", []byte("not really a png")},
	)
	images, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if images[0].Format != "png" || images[0].Width != 3 || images[0].Height != 2 {
		t.Errorf("probe = %+v", images[0])
	}
	if images[1].Format != "" || images[1].Width != 0 {
		t.Errorf("undecodable image should keep zero metadata: %+v", images[1])
	}
}

func TestSortKey(t *testing.T) {
	cases := []struct {
		name string
		want int64
	}{
		{"image_1.png", 1},
		{"image_010.png", 10},
		{"p2_v9.png", 2},
		{"cover.png", 0},
		{"", 0},
		{"99999999999999999999999.png", math.MaxInt64},
		{"9223372036854775807.png", math.MaxInt64},
		{"9223372036854775806.png", math.MaxInt64 - 1},
	}
	for _, tc := range cases {
		if got := SortKey(tc.name); got != tc.want {
			t.Errorf("SortKey(%q) = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestIsImageName(t *testing.T) {
	for name, want := range map[string]bool{
		"a.png": true, "a.JPG": true, "a.jpeg": true, "a.gif": true, "a.webp": true,
		"a.png.txt": false, "a.svg": false, "png": false,
	} {
		if got := IsImageName(name); got != want {
			t.Errorf("IsImageName(%q) = %v", name, got)
		}
	}
}
