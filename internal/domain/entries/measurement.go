package entries

import (
	"fmt"
	"strings"
)

type MeasurementKind string

const (
	MeasureWeight        MeasurementKind = "weight"
	MeasureBodyFat       MeasurementKind = "body_fat"
	MeasureBloodPressure MeasurementKind = "blood_pressure"
	MeasureHeartRate     MeasurementKind = "heart_rate"
	MeasureWaist         MeasurementKind = "waist"
	MeasureSleep         MeasurementKind = "sleep"
	MeasureOther         MeasurementKind = "other"
)

type MeasurementRecord struct {
	RecordHeader
	Kind  MeasurementKind `gorm:"type:text;not null;index" json:"kind"`
	Value *float64        `json:"value"`
	Unit  string          `gorm:"type:text;not null;default:''" json:"unit,omitempty"`
	// Secondary carries the diastolic reading for blood pressure.
	Secondary *float64 `json:"secondary,omitempty"`
}

func (MeasurementRecord) TableName() string { return "measurement_record" }

func (m *MeasurementRecord) Subtype() Subtype      { return SubtypeMeasurement }
func (m *MeasurementRecord) Header() *RecordHeader { return &m.RecordHeader }
func (m *MeasurementRecord) record()               {}

func (m *MeasurementRecord) Numeric() map[string]*float64 {
	return map[string]*float64{"value": m.Value, "secondary": m.Secondary}
}

func (m *MeasurementRecord) SetNumeric(field string, v float64) bool {
	switch field {
	case "value":
		m.Value = &v
	case "secondary":
		m.Secondary = &v
	default:
		return false
	}
	return true
}

func (m *MeasurementRecord) ClearNumeric(field string) bool {
	switch field {
	case "value":
		m.Value = nil
	case "secondary":
		m.Secondary = nil
	default:
		return false
	}
	return true
}

func (m *MeasurementRecord) Summary() string {
	label := strings.ReplaceAll(string(m.Kind), "_", " ")
	switch {
	case m.Value == nil:
		return label
	case m.Secondary != nil:
		return fmt.Sprintf("%s %s/%s %s", label, formatNum(*m.Value), formatNum(*m.Secondary), m.Unit)
	default:
		return fmt.Sprintf("%s %s %s", label, formatNum(*m.Value), m.Unit)
	}
}

func (m *MeasurementRecord) Validate() error {
	if m.Kind == "" {
		return NewError(KindValidation, "measurement without kind", nil)
	}
	if (m.Value != nil || m.Secondary != nil) && strings.TrimSpace(m.Unit) == "" {
		return NewError(KindValidation, "measurement value without unit", nil)
	}
	return nil
}
