package pyramid

import "testing"

func TestInferSingleLevelSinglePlane(t *testing.T) {
	tiles := []Tile{
		{Col: 0, Row: 0, Channel: 0, Level: 0},
		{Col: 1, Row: 0, Channel: 0, Level: 0},
		{Col: 0, Row: 1, Channel: 0, Level: 0},
		{Col: 1, Row: 1, Channel: 0, Level: 0},
	}
	inf, err := Infer(tiles, 256, 256, 2)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if inf.LevelCount != 1 || inf.PlaneCount != 1 {
		t.Fatalf("unexpected counts: %+v", inf)
	}
	if inf.Levels[0].Width != 512 || inf.Levels[0].Height != 512 {
		t.Fatalf("unexpected level 0 dims: %+v", inf.Levels[0])
	}
	if inf.Levels[0].Downsample != 1.0 {
		t.Fatalf("expected downsample 1.0 at level 0, got %v", inf.Levels[0].Downsample)
	}
}

func TestInferMultiLevelHalvesWithCeiling(t *testing.T) {
	tiles := []Tile{
		{Col: 2, Row: 2, Channel: 0, Level: 0},
		{Col: 1, Row: 1, Channel: 0, Level: 1},
		{Col: 0, Row: 0, Channel: 0, Level: 2},
	}
	inf, err := Infer(tiles, 256, 256, 2)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if inf.LevelCount != 3 {
		t.Fatalf("expected 3 levels, got %d", inf.LevelCount)
	}
	if inf.Levels[0].Width != 768 {
		t.Fatalf("expected level 0 width 768, got %d", inf.Levels[0].Width)
	}
	if inf.Levels[1].Width != ceilDiv(768, 2) {
		t.Fatalf("expected level 1 width from ceiling-halving, got %d", inf.Levels[1].Width)
	}
	if inf.Levels[1].Downsample != 2.0 || inf.Levels[2].Downsample != 4.0 {
		t.Fatalf("unexpected downsamples: %v, %v", inf.Levels[1].Downsample, inf.Levels[2].Downsample)
	}
}

func TestInferMultiPlaneFromNonzeroChannel(t *testing.T) {
	tiles := []Tile{
		{Col: 0, Row: 0, Channel: 0, Level: 0},
		{Col: 0, Row: 0, Channel: 1, Level: 0},
		{Col: 0, Row: 0, Channel: 2, Level: 0},
	}
	inf, err := Infer(tiles, 256, 256, 2)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if inf.PlaneCount != 3 {
		t.Fatalf("expected 3 planes, got %d", inf.PlaneCount)
	}
}

func TestInferRejectsEmptyDirectory(t *testing.T) {
	if _, err := Infer(nil, 256, 256, 2); err == nil {
		t.Fatal("expected error for empty tile directory")
	}
}

func TestInferRejectsLevelGap(t *testing.T) {
	// Level 1 has no tiles even though level 2 does: inferred level_count
	// of 3 leaves a hole, which is an inconsistent pyramid.
	tiles := []Tile{
		{Col: 0, Row: 0, Channel: 0, Level: 0},
		{Col: 0, Row: 0, Channel: 0, Level: 2},
	}
	if _, err := Infer(tiles, 256, 256, 2); err == nil {
		t.Fatal("expected InconsistentPyramidError for a level gap")
	}
}
