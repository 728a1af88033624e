package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// FirstPatientID is the id handed out for a tenant with no records
const FirstPatientID int64 = 1

// DefaultPageSize is the number of records on one listing page
const DefaultPageSize = 40

// DateLayout is the wire format of calendar dates
const DateLayout = "2006-01-02"

// Patient is a tenant-owned ultrasound record. Ids are allocated per tenant,
// so the key is (tenant_id, patient_id).
type Patient struct {
	TenantID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"tenant_id"`
	PatientID              int64      `gorm:"primaryKey;autoIncrement:false" json:"patient_id"`
	DateOfUSG              time.Time  `gorm:"column:date_of_usg;type:date;not null;index" json:"date_of_usg"`
	PatientName            string     `gorm:"type:varchar(255);not null" json:"patient_name"`
	HusbandName            string     `gorm:"type:varchar(255)" json:"husband_name"`
	PatientAge             int        `json:"patient_age"`
	NumberOfMaleChildren   int        `gorm:"not null;default:0" json:"number_of_male_children"`
	NumberOfFemaleChildren int        `gorm:"not null;default:0" json:"number_of_female_children"`
	MaleChildrenAges       string     `gorm:"type:varchar(100)" json:"male_children_ages"`
	FemaleChildrenAges     string     `gorm:"type:varchar(100)" json:"female_children_ages"`
	Address                string     `gorm:"type:text" json:"address"`
	MobileNo               string     `gorm:"type:varchar(20)" json:"mobile_no"`
	ReferredBy             string     `gorm:"type:varchar(255)" json:"referred_by"`
	LastMenstrualPeriod    *time.Time `gorm:"type:date" json:"last_menstrual_period,omitempty"`
	GestationalAge         string     `gorm:"type:varchar(50);not null;default:''" json:"gestational_age"`
	RCHID                  string     `gorm:"column:rch_id;type:varchar(50)" json:"rch_id"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// TableName overrides the table name
func (Patient) TableName() string {
	return "patients"
}

// ListFilter selects one of the report predicates applied on top of the
// tenant and date range filters
type ListFilter string

const (
	FilterFull               ListFilter = "full"
	FilterFemaleChildrenOnly ListFilter = "female_children_only"
	FilterRPOCFlagged        ListFilter = "rpoc_flagged"
)

// ParseListFilter accepts the canonical names plus the labels used by the
// report screen ("Full", "Female Children", "RPOC").
func ParseListFilter(s string) (ListFilter, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "full":
		return FilterFull, true
	case "female_children_only", "femalechildrenonly", "female children":
		return FilterFemaleChildrenOnly, true
	case "rpoc_flagged", "rpocflagged", "rpoc":
		return FilterRPOCFlagged, true
	}
	return "", false
}

// PatientQuery is the filtered listing request
type PatientQuery struct {
	Filter    ListFilter
	From      time.Time
	To        time.Time
	GAPattern string
}

// PatientPage is one page of the listing plus the tenant's total
type PatientPage struct {
	Patients []Patient `json:"patients"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
	Count    int64     `json:"count"`
}

// PatientRequest is the create/update payload. The tenant is never read from it.
type PatientRequest struct {
	PatientID              int64  `json:"patient_id" validate:"required,gt=0"`
	DateOfUSG              string `json:"date_of_usg" validate:"required,datetime=2006-01-02"`
	PatientName            string `json:"patient_name" validate:"required,max=255"`
	HusbandName            string `json:"husband_name" validate:"max=255"`
	PatientAge             int    `json:"patient_age" validate:"gte=0,lte=120"`
	NumberOfMaleChildren   int    `json:"number_of_male_children" validate:"gte=0"`
	NumberOfFemaleChildren int    `json:"number_of_female_children" validate:"gte=0"`
	MaleChildrenAges       string `json:"male_children_ages" validate:"max=100"`
	FemaleChildrenAges     string `json:"female_children_ages" validate:"max=100"`
	Address                string `json:"address"`
	MobileNo               string `json:"mobile_no" validate:"omitempty,numeric,max=20"`
	ReferredBy             string `json:"referred_by" validate:"max=255"`
	LastMenstrualPeriod    string `json:"last_menstrual_period" validate:"omitempty,datetime=2006-01-02"`
	GestationalAge         string `json:"gestational_age" validate:"max=50"`
	RCHID                  string `json:"rch_id" validate:"max=50"`
}

// ToPatient converts a validated request into a record without a tenant
func (r *PatientRequest) ToPatient() (*Patient, error) {
	usg, err := time.Parse(DateLayout, r.DateOfUSG)
	if err != nil {
		return nil, err
	}

	p := &Patient{
		PatientID:              r.PatientID,
		DateOfUSG:              usg,
		PatientName:            strings.TrimSpace(r.PatientName),
		HusbandName:            strings.TrimSpace(r.HusbandName),
		PatientAge:             r.PatientAge,
		NumberOfMaleChildren:   r.NumberOfMaleChildren,
		NumberOfFemaleChildren: r.NumberOfFemaleChildren,
		MaleChildrenAges:       r.MaleChildrenAges,
		FemaleChildrenAges:     r.FemaleChildrenAges,
		Address:                r.Address,
		MobileNo:               r.MobileNo,
		ReferredBy:             r.ReferredBy,
		GestationalAge:         strings.TrimSpace(r.GestationalAge),
		RCHID:                  r.RCHID,
	}

	if r.LastMenstrualPeriod != "" {
		lmp, err := time.Parse(DateLayout, r.LastMenstrualPeriod)
		if err != nil {
			return nil, err
		}
		p.LastMenstrualPeriod = &lmp
	}

	return p, nil
}

// DeleteRequest carries the ids selected on the listing screen
type DeleteRequest struct {
	IDs []int64 `json:"ids" validate:"required,min=1,dive,gt=0"`
}
