package view

import "math"

// DefaultTileSize 画布上一个菱形瓦片的宽度（像素）
const DefaultTileSize = 32

// Tile 等距网格上的世界坐标
type Tile struct {
	X int
	Y int
}

// Projection 2:1 等距投影，原点位于画布 (width/2, height/4)
type Projection struct {
	TileSize float64
	Width    float64
	Height   float64
}

// NewProjection 创建指定画布尺寸的投影，tileSize<=0 时使用默认值
func NewProjection(width, height, tileSize float64) Projection {
	if tileSize <= 0 {
		tileSize = DefaultTileSize
	}
	return Projection{TileSize: tileSize, Width: width, Height: height}
}

// ScreenToTile 将画布像素坐标换算为所在瓦片
func (p Projection) ScreenToTile(px, py float64) Tile {
	dx := px - p.Width/2
	dy := py - p.Height/4
	half := p.TileSize / 2
	return Tile{
		X: int(math.Floor(dx/p.TileSize + dy/half)),
		Y: int(math.Floor(dy/half - dx/p.TileSize)),
	}
}

// TileToScreen 瓦片上顶点在画布上的像素坐标（ScreenToTile 的正向投影）
func (p Projection) TileToScreen(t Tile) (float64, float64) {
	x := float64(t.X-t.Y)*p.TileSize/2 + p.Width/2
	y := float64(t.X+t.Y)*p.TileSize/4 + p.Height/4
	return x, y
}

// TileCenter 瓦片中心的像素坐标，点击该点必然落在该瓦片内
func (p Projection) TileCenter(t Tile) (float64, float64) {
	x, y := p.TileToScreen(t)
	return x, y + p.TileSize/4
}
