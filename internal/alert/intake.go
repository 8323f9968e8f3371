package alert

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"time"
)

// IntakeRequest is the raw alert payload as posted by an AIBox unit.
// alert_time arrives as a numeric epoch timestamp (possibly fractional);
// image and video arrive as inline base64.
type IntakeRequest struct {
	ID           string            `json:"id"`
	AlertTime    json.RawMessage   `json:"alert_time"`
	Device       *DeviceDescriptor `json:"device"`
	Source       *SourceDescriptor `json:"source"`
	Alg          *AlgDescriptor    `json:"alg"`
	HazardLevel  string            `json:"hazard_level"`
	Image        string            `json:"image"`
	Video        string            `json:"video"`
	ReservedData json.RawMessage   `json:"reserved_data"`
}

// DeviceDescriptor references an existing device by its external AIBox id.
type DeviceDescriptor struct {
	ID string `json:"id"`
}

// SourceDescriptor identifies the camera/feed; ipv4 and desc default to
// empty when the source is created on first reference.
type SourceDescriptor struct {
	ID   string `json:"id"`
	IPv4 string `json:"ipv4"`
	Desc string `json:"desc"`
}

// AlgDescriptor names the detection algorithm. Name is the lookup key;
// ch_name and type fill in the record when it is created lazily.
type AlgDescriptor struct {
	Name   string `json:"name"`
	ChName string `json:"ch_name"`
	Type   string `json:"type"`
}

// intake is an IntakeRequest after validation: dependent descriptors parsed,
// media decoded, timestamp converted.
type intake struct {
	new   NewAlert
	image []byte
	video []byte
}

const defaultHazardLevel = "1"

// parseIntake validates the payload shape without touching the store.
// Device existence is checked by the service; everything else that can fail
// on input alone fails here, accumulated per field.
func parseIntake(req *IntakeRequest) (*intake, FieldErrors) {
	fe := FieldErrors{}

	if req.ID == "" {
		fe.Add("id", "this field is required")
	}

	alertTime, ok := parseEpoch(req.AlertTime)
	if !ok {
		fe.Add("alert_time", "invalid alert_time format (must be a numeric timestamp)")
	}

	if req.Device == nil || req.Device.ID == "" {
		fe.Add("device", "field 'device.id' is required")
	}

	var src *NewSource
	if req.Source != nil {
		if req.Source.ID == "" {
			fe.Add("source", "field 'source.id' is required")
		} else {
			src = &NewSource{SourceID: req.Source.ID, IPv4: req.Source.IPv4, Desc: req.Source.Desc}
		}
	}

	var alg *NewAlgorithm
	if req.Alg != nil {
		if req.Alg.Name == "" {
			fe.Add("alg", "field 'alg.name' is required")
		} else {
			alg = &NewAlgorithm{Key: req.Alg.Name, Name: req.Alg.ChName, Type: req.Alg.Type}
		}
	}

	image, err := decodeMedia(req.Image)
	if err != nil {
		fe.Add("image", "invalid base64 image data")
	}
	video, err := decodeMedia(req.Video)
	if err != nil {
		fe.Add("video", "invalid base64 video data")
	}

	hazard := req.HazardLevel
	if hazard == "" {
		hazard = defaultHazardLevel
	}

	if len(fe) > 0 {
		return nil, fe
	}

	return &intake{
		new: NewAlert{
			AIBoxAlertID: req.ID,
			AlertTime:    alertTime,
			Source:       src,
			Algorithm:    alg,
			HazardLevel:  hazard,
			ReservedData: req.ReservedData,
		},
		image: image,
		video: video,
	}, nil
}

// parseEpoch converts a raw JSON number (integer or fractional epoch
// seconds) to a UTC time. Anything non-numeric fails.
func parseEpoch(raw json.RawMessage) (time.Time, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return time.Time{}, false
	}
	v, err := strconv.ParseFloat(string(trimmed), 64)
	if err != nil {
		return time.Time{}, false
	}
	sec := int64(v)
	nsec := int64((v - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC(), true
}

func decodeMedia(b64 string) ([]byte, error) {
	if b64 == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(b64)
}
