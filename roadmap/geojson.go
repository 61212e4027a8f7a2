package roadmap

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/simplify"
)

// ExportGeoJSON converts the current scene of a surface into a GeoJSON
// FeatureCollection. Polylines are simplified to roughly one pixel at the
// current zoom; style attributes are carried as properties.
func ExportGeoJSON(surface *HeadlessSurface) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	zoom := surface.Zoom()
	simplifier := simplify.DouglasPeucker(degreesPerPixel(zoom))

	for _, p := range surface.Scene() {
		var f *geojson.Feature
		switch p.Kind {
		case KindPolyline:
			line := simplifier.LineString(p.Line.Clone())
			f = geojson.NewFeature(line)
			f.Properties["color"] = Hex(p.LineStyle.Color)
			f.Properties["weight"] = p.LineStyle.Weight
			f.Properties["opacity"] = p.LineStyle.Opacity
		case KindMarker:
			f = geojson.NewFeature(p.Center)
			f.Properties["radius"] = p.MarkerStyle.Radius
			f.Properties["fillColor"] = Hex(p.MarkerStyle.Fill)
			f.Properties["color"] = Hex(p.MarkerStyle.Border)
			f.Properties["weight"] = p.MarkerStyle.BorderWeight
			f.Properties["opacity"] = p.MarkerStyle.Opacity
			f.Properties["fillOpacity"] = p.MarkerStyle.FillOpacity
		case KindLabel:
			f = geojson.NewFeature(p.Center)
			f.Properties["text"] = p.Text
			f.Properties["fontSize"] = p.LabelStyle.FontSize
		default:
			continue
		}
		f.Properties["layer"] = string(p.Layer)
		f.Properties["kind"] = p.Kind.String()
		fc.Append(f)
	}

	if len(fc.Features) > 0 {
		fc.BBox = geojson.NewBBox(sceneBound(fc))
	}
	return fc
}

// degreesPerPixel is the longitude span of one pixel at zoom.
func degreesPerPixel(zoom int) float64 {
	return 360 / (tileSize * math.Exp2(float64(zoom)))
}

func sceneBound(fc *geojson.FeatureCollection) orb.Bound {
	bound := fc.Features[0].Geometry.Bound()
	for _, f := range fc.Features[1:] {
		bound = bound.Union(f.Geometry.Bound())
	}
	return bound
}
