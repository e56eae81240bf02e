package view

import (
	"math"
	"testing"
)

func TestScreenToTileRoundTrip(t *testing.T) {
	for _, size := range []struct{ w, h float64 }{{800, 600}, {1024, 768}, {640, 480}} {
		proj := NewProjection(size.w, size.h, DefaultTileSize)
		for x := -20; x <= 20; x++ {
			for y := -20; y <= 20; y++ {
				tile := Tile{X: x, Y: y}

				px, py := proj.TileToScreen(tile)
				if got := proj.ScreenToTile(px, py); got != tile {
					t.Fatalf("%vx%v: vertex of %v resolved to %v", size.w, size.h, tile, got)
				}

				cx, cy := proj.TileCenter(tile)
				if got := proj.ScreenToTile(cx, cy); got != tile {
					t.Fatalf("%vx%v: center of %v resolved to %v", size.w, size.h, tile, got)
				}
			}
		}
	}
}

func TestScreenToTileStaysInsideDiamond(t *testing.T) {
	proj := NewProjection(800, 600, DefaultTileSize)
	tile := Tile{X: 4, Y: -3}
	cx, cy := proj.TileCenter(tile)

	// 菱形内部任意点（半宽 16，半高 8，留出边界余量）
	for _, off := range [][2]float64{{0, 0}, {10, 0}, {-10, 0}, {0, 5}, {0, -5}, {6, 3}, {-6, -3}} {
		if got := proj.ScreenToTile(cx+off[0], cy+off[1]); got != tile {
			t.Fatalf("offset %v from center resolved to %v, want %v", off, got, tile)
		}
	}
}

func TestTileToScreenInvertsWithinOneTile(t *testing.T) {
	proj := NewProjection(800, 600, DefaultTileSize)
	for px := 0.0; px < 800; px += 7 {
		for py := 0.0; py < 600; py += 5 {
			tile := proj.ScreenToTile(px, py)
			vx, vy := proj.TileToScreen(tile)
			// 点击点相对瓦片上顶点的世界坐标偏移必须落在 [0,1)
			dx := (px - vx) / DefaultTileSize
			dy := (py - vy) / (DefaultTileSize / 2)
			wx, wy := dx+dy, dy-dx
			if wx < 0 || wx >= 1 || wy < 0 || wy >= 1 || math.IsNaN(wx) {
				t.Fatalf("pixel (%v,%v) resolved to %v with world offset (%v,%v)", px, py, tile, wx, wy)
			}
		}
	}
}

func TestNewProjectionDefaultsTileSize(t *testing.T) {
	proj := NewProjection(100, 100, 0)
	if proj.TileSize != DefaultTileSize {
		t.Fatalf("expected default tile size, got %v", proj.TileSize)
	}
}
