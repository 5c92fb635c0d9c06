// OME XML metadata extraction (spec §4.5 "design-level" list) and the
// level x channel pyramid assembly that sits on top of the raw IFD chain
// in tiff.go.
//
// encoding/xml is used directly: spec §1 names "the XML parser used for
// OME metadata" as an external collaborator the core does not own the
// internals of, and no third-party XML library appears anywhere in the
// example pack for this concern, so the standard library is the correct
// choice here (recorded in DESIGN.md as the one stdlib-only dependency in
// the design).
package ometiff

import (
	"encoding/xml"
	"fmt"
)

// OMEMetadata is the subset of an OME-XML document spec §4.5 asks the
// core to extract.
type OMEMetadata struct {
	Manufacturer string
	Model        string
	// LightSourceCount is a rough channel-count estimate from enumerating
	// /OME/Instrument/LightSource nodes, per spec §4.5's extraction list.
	// It is advisory only; PlaneCount (derived from Channel nodes) is
	// authoritative.
	LightSourceCount int
	Images           []OMEImage
	// OriginalMetadata holds StructuredAnnotations/MapAnnotation key-value
	// pairs, the convention OME-TIFF writers use to carry vendor-specific
	// fields (bounds, stage offsets, and the like) that have no dedicated
	// element in the OME schema itself.
	OriginalMetadata map[string]string
}

// OMEImage carries one /OME/Image node's metadata.
type OMEImage struct {
	AcquisitionDate string
	SizeX, SizeY    int
	PhysicalSizeX   float64
	PhysicalSizeY   float64
	Channels        []OMEChannel
	Planes          []OMEPlane
}

// OMEChannel carries one Pixels/Channel node.
type OMEChannel struct {
	Name               string
	EmissionWavelength float64
	Color              string
}

// OMEPlane carries one Pixels/Plane node.
type OMEPlane struct {
	ExposureTime float64
}

type omeXMLRoot struct {
	XMLName    xml.Name `xml:"OME"`
	Instrument struct {
		Microscope struct {
			Manufacturer string `xml:"Manufacturer,attr"`
			Model        string `xml:"Model,attr"`
		} `xml:"Microscope"`
		LightSource []struct{} `xml:"LightSource"`
	} `xml:"Instrument"`
	Image []struct {
		AcquisitionDate string `xml:"AcquisitionDate"`
		Pixels          struct {
			SizeX         int     `xml:"SizeX,attr"`
			SizeY         int     `xml:"SizeY,attr"`
			PhysicalSizeX float64 `xml:"PhysicalSizeX,attr"`
			PhysicalSizeY float64 `xml:"PhysicalSizeY,attr"`
			Channel       []struct {
				Name               string  `xml:"Name,attr"`
				EmissionWavelength float64 `xml:"EmissionWavelength,attr"`
				Color              string  `xml:"Color,attr"`
			} `xml:"Channel"`
			Plane []struct {
				ExposureTime float64 `xml:"ExposureTime,attr"`
			} `xml:"Plane"`
		} `xml:"Pixels"`
	} `xml:"Image"`
	StructuredAnnotations struct {
		MapAnnotation []struct {
			Value struct {
				M []struct {
					K     string `xml:"K,attr"`
					Value string `xml:",chardata"`
				} `xml:"M"`
			} `xml:"Value"`
		} `xml:"MapAnnotation"`
	} `xml:"StructuredAnnotations"`
}

// MissingMetadataError reports a required OME attribute absent from the
// document (spec §4.5: "missing required attributes (SizeX, SizeY) fail
// with MissingMetadata").
type MissingMetadataError struct{ Attribute string }

func (e *MissingMetadataError) Error() string {
	return fmt.Sprintf("missing required OME metadata attribute: %s", e.Attribute)
}

// ParseOMEXML parses an OME-XML document per spec §4.5's extraction list.
// Missing optional attributes default to their zero value; SizeX/SizeY
// missing (i.e. <= 0) on any Image is a hard failure.
func ParseOMEXML(doc []byte) (OMEMetadata, error) {
	var root omeXMLRoot
	if err := xml.Unmarshal(doc, &root); err != nil {
		return OMEMetadata{}, fmt.Errorf("parse OME XML: %w", err)
	}

	meta := OMEMetadata{
		Manufacturer:     root.Instrument.Microscope.Manufacturer,
		Model:            root.Instrument.Microscope.Model,
		LightSourceCount: len(root.Instrument.LightSource),
	}

	for _, ann := range root.StructuredAnnotations.MapAnnotation {
		for _, m := range ann.Value.M {
			if m.K == "" {
				continue
			}
			if meta.OriginalMetadata == nil {
				meta.OriginalMetadata = make(map[string]string)
			}
			meta.OriginalMetadata[m.K] = m.Value
		}
	}

	for _, img := range root.Image {
		if img.Pixels.SizeX <= 0 {
			return OMEMetadata{}, &MissingMetadataError{Attribute: "Pixels/@SizeX"}
		}
		if img.Pixels.SizeY <= 0 {
			return OMEMetadata{}, &MissingMetadataError{Attribute: "Pixels/@SizeY"}
		}

		oi := OMEImage{
			AcquisitionDate: img.AcquisitionDate,
			SizeX:           img.Pixels.SizeX,
			SizeY:           img.Pixels.SizeY,
			PhysicalSizeX:   img.Pixels.PhysicalSizeX,
			PhysicalSizeY:   img.Pixels.PhysicalSizeY,
		}
		for _, ch := range img.Pixels.Channel {
			oi.Channels = append(oi.Channels, OMEChannel{
				Name:               ch.Name,
				EmissionWavelength: ch.EmissionWavelength,
				Color:              ch.Color,
			})
		}
		for _, pl := range img.Pixels.Plane {
			oi.Planes = append(oi.Planes, OMEPlane{ExposureTime: pl.ExposureTime})
		}
		meta.Images = append(meta.Images, oi)
	}

	return meta, nil
}

// IsOlympusVSI reports whether the document's experimenter username is the
// sentinel "olympus", the detection rule spec §4.1 rule 2 uses to confirm
// a .tif sidecar belongs to this reader rather than a generic OME-TIFF.
func IsOlympusVSI(doc []byte) bool {
	var probe struct {
		Experimenter struct {
			UserName string `xml:"UserName,attr"`
		} `xml:"Experimenter"`
	}
	if err := xml.Unmarshal(doc, &probe); err != nil {
		return false
	}
	return probe.Experimenter.UserName == "olympus"
}

// LevelChannelStructure groups a flat IFD list by level then channel, per
// spec §4.5: "plane_count is the number of Channel nodes ... level_count
// is the number of Image nodes", and verifies per-level channel agreement
// on width/height/tile dimensions.
type LevelChannelStructure struct {
	LevelCount int
	PlaneCount int
	Levels     []Directory // one representative directory per level (channel 0)
	ByLevel    [][]Directory
}

// BuildLevelChannelStructure assumes directories are ordered level-major,
// channel-minor in file order, consistent with how OME-TIFF writers emit
// them (spec §4.5: "Directories are grouped by level then channel in file
// order").
func BuildLevelChannelStructure(dirs []Directory, levelCount, planeCount int) (LevelChannelStructure, error) {
	if levelCount <= 0 {
		return LevelChannelStructure{}, fmt.Errorf("ometiff: level count must be positive")
	}
	if planeCount <= 0 {
		planeCount = 1
	}
	if len(dirs) != levelCount*planeCount {
		return LevelChannelStructure{}, fmt.Errorf("ometiff: expected %d directories (levels x channels), got %d", levelCount*planeCount, len(dirs))
	}

	byLevel := make([][]Directory, levelCount)
	for l := 0; l < levelCount; l++ {
		byLevel[l] = dirs[l*planeCount : (l+1)*planeCount]
		first := byLevel[l][0]
		for c := 1; c < planeCount; c++ {
			d := byLevel[l][c]
			if d.Width != first.Width || d.Height != first.Height ||
				d.TileWidth != first.TileWidth || d.TileHeight != first.TileHeight {
				return LevelChannelStructure{}, fmt.Errorf("ometiff: level %d channel %d disagrees on dimensions with channel 0", l, c)
			}
		}
	}

	levels := make([]Directory, levelCount)
	for l := range byLevel {
		levels[l] = byLevel[l][0]
	}

	return LevelChannelStructure{
		LevelCount: levelCount,
		PlaneCount: planeCount,
		Levels:     levels,
		ByLevel:    byLevel,
	}, nil
}

// Downsample returns width(0)/width(L), per spec §4.5: "the pyramid is not
// assumed to be exactly 2x; per-level downsample is computed from observed
// widths".
func (s LevelChannelStructure) Downsample(level int) float64 {
	return float64(s.Levels[0].Width) / float64(s.Levels[level].Width)
}
