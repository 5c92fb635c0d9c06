package deepzoom

import "testing"

// fakeSlide is a synthetic 2-level pyramid: level 0 is 1000x800, level 1 is
// its 2x downsample, matching a typical native ETS pyramid.
type fakeSlide struct {
	props map[string]string
}

func (f *fakeSlide) LevelCount() int { return 2 }

func (f *fakeSlide) LevelDimensions(level int) Dimensions {
	if level == 0 {
		return Dimensions{1000, 800}
	}
	return Dimensions{500, 400}
}

func (f *fakeSlide) LevelDownsample(level int) float64 {
	if level == 0 {
		return 1.0
	}
	return 2.0
}

func (f *fakeSlide) BestLevelForDownsample(downsample float64) int {
	if downsample >= 2.0 {
		return 1
	}
	return 0
}

func (f *fakeSlide) Property(key string) (string, bool) {
	v, ok := f.props[key]
	return v, ok
}

func TestOpenComputesDerivedState(t *testing.T) {
	a, err := Open(&fakeSlide{}, 254, 1, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if a.LevelCount() <= 0 {
		t.Fatalf("expected positive dz level count")
	}
	top, err := a.LevelDimensions(a.LevelCount() - 1)
	if err != nil {
		t.Fatalf("LevelDimensions: %v", err)
	}
	if top.W != 1000 || top.H != 800 {
		t.Fatalf("expected top dz level to match level 0 dims, got %+v", top)
	}
}

func TestGetTileInteriorHasFullOverlap(t *testing.T) {
	a, err := Open(&fakeSlide{}, 254, 1, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	topLevel := a.LevelCount() - 1
	req, err := a.GetTile(topLevel, 1, 1)
	if err != nil {
		t.Fatalf("GetTile: %v", err)
	}
	// Tile (1,1) of a 4x4 grid is interior on every side: 254 + 2*overlap.
	if req.FinalScaleW != 256 || req.FinalScaleH != 256 {
		t.Fatalf("expected interior tile size 256x256, got %+v", req)
	}
}

func TestGetTileRejectsOutOfRange(t *testing.T) {
	a, err := Open(&fakeSlide{}, 254, 1, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := a.GetTile(a.LevelCount(), 0, 0); err == nil {
		t.Fatal("expected out-of-range error for dz_level")
	}
	if _, err := a.GetTile(0, 9999, 0); err == nil {
		t.Fatal("expected out-of-range error for col")
	}
}

func TestLimitBoundsScalesDimensions(t *testing.T) {
	props := map[string]string{
		"bounds-x":      "100",
		"bounds-y":      "50",
		"bounds-width":  "500",
		"bounds-height": "400",
	}
	a, err := Open(&fakeSlide{props: props}, 254, 1, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	top, err := a.LevelDimensions(a.LevelCount() - 1)
	if err != nil {
		t.Fatalf("LevelDimensions: %v", err)
	}
	if top.W != 500 || top.H != 400 {
		t.Fatalf("expected bounds-scaled dims 500x400, got %+v", top)
	}
}
