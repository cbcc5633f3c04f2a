package domain

import "time"

// PurchaseTerms is the purchase order an inward entry was received against.
type PurchaseTerms struct {
	OrderNo     string  `json:"orderNo"`
	Supplier    string  `json:"supplier"`
	Broker      string  `json:"broker"`
	Variety     string  `json:"variety"`
	Station     string  `json:"station"`
	CandyRate   float64 `json:"candyRate" validate:"gte=0,lte=10000000"`
	QuintalRate float64 `json:"quintalRate" validate:"gte=0,lte=10000000"`
}

type InwardEntry struct {
	ID             string        `json:"id"`
	InwardNo       string        `json:"inwardNo"`
	InwardDate     time.Time     `json:"inwardDate"`
	PurchaseOrder  PurchaseTerms `json:"purchaseOrder"`
	Godown         string        `json:"godown"`
	LorryNo        string        `json:"lorryNo"`
	BillNo         string        `json:"billNo"`
	BalesQty       int           `json:"balesQty"`
	GSTPercent     float64       `json:"gstPercent"`
	GSTAmount      float64       `json:"gstAmount"`
	LotBales       int           `json:"lotBales"`
	AvailableBales int           `json:"availableBales"`
	CreatedAt      time.Time     `json:"createdAt"`
}

type InwardEntryCreateRequest struct {
	InwardNo      string        `json:"inwardNo" validate:"required,max=40"`
	InwardDate    string        `json:"inwardDate" validate:"required,datetime=2006-01-02"`
	PurchaseOrder PurchaseTerms `json:"purchaseOrder"`
	Godown        string        `json:"godown" validate:"max=60"`
	LorryNo       string        `json:"lorryNo" validate:"max=20"`
	BillNo        string        `json:"billNo" validate:"max=40"`
	BalesQty      int           `json:"balesQty" validate:"gt=0"`
	GSTPercent    float64       `json:"gstPercent" validate:"gte=0,lte=100"`
	GSTAmount     float64       `json:"gstAmount" validate:"gte=0"`
}

type InwardEntryListResponse struct {
	InwardEntries []InwardEntry `json:"inwardEntries"`
}

type Lot struct {
	ID             string       `json:"id"`
	InwardID       string       `json:"inwardId"`
	LotNo          string       `json:"lotNo"`
	SetNo          string       `json:"setNo,omitempty"`
	BalesQty       int          `json:"balesQty"`
	CessPaidAmount float64      `json:"cessPaidAmount"`
	GrossWeight    float64      `json:"grossWeight"`
	TareWeight     float64      `json:"tareWeight"`
	NettWeight     float64      `json:"nettWeight"`
	CandyRate      float64      `json:"candyRate"`
	QuintalRate    float64      `json:"quintalRate"`
	RatePerKg      float64      `json:"ratePerKg"`
	InvoiceValue   float64      `json:"invoiceValue"`
	Remarks        string       `json:"remarks,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	Weightments    []Weightment `json:"weightments,omitempty"`
}

// LotCreateRequest is the lot header body posted by the lot wizard.
type LotCreateRequest struct {
	InwardID       string  `json:"inwardId" validate:"required"`
	LotNo          string  `json:"lotNo" validate:"max=40"`
	SetNo          string  `json:"setNo" validate:"max=20"`
	BalesQty       int     `json:"balesQty" validate:"gt=0"`
	CessPaidAmount float64 `json:"cessPaidAmount" validate:"gte=0,lte=10000000"`
	GrossWeight    float64 `json:"grossWeight" validate:"gt=0,lte=1000000,gtfield=TareWeight"`
	TareWeight     float64 `json:"tareWeight" validate:"gte=0,lte=1000000"`
	NettWeight     float64 `json:"nettWeight"`
	CandyRate      float64 `json:"candyRate" validate:"gte=0,lte=10000000"`
	QuintalRate    float64 `json:"quintalRate" validate:"gte=0,lte=10000000"`
	RatePerKg      float64 `json:"ratePerKg"`
	InvoiceValue   float64 `json:"invoiceValue"`
	Remarks        string  `json:"remarks" validate:"max=500"`
}

type LotResponse struct {
	Lot Lot `json:"lot"`
}

type LotListResponse struct {
	Lots []Lot `json:"lots"`
}

type NextLotNumberResponse struct {
	LotNo string `json:"lotNo"`
}

type Weightment struct {
	ID          string    `json:"id"`
	LotNo       string    `json:"lotNo"`
	BaleNo      int       `json:"baleNo"`
	GrossWeight float64   `json:"grossWeight"`
	TareWeight  float64   `json:"tareWeight"`
	BaleWeight  float64   `json:"baleWeight"`
	BaleValue   float64   `json:"baleValue"`
	CreatedAt   time.Time `json:"createdAt"`
}

// WeightmentCreateRequest carries one bale reading; bale numbers are
// assigned by position.
type WeightmentCreateRequest struct {
	GrossWeight float64 `json:"grossWeight" validate:"gt=0,lte=1000000"`
	TareWeight  float64 `json:"tareWeight" validate:"gte=0,ltfield=GrossWeight"`
	BaleValue   float64 `json:"baleValue" validate:"gte=0,lte=100000000000"`
}

type WeightmentListResponse struct {
	LotNo       string       `json:"lotNo"`
	Weightments []Weightment `json:"weightments"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	EntityType string    `json:"entityType"`
	EntityID   string    `json:"entityId"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"createdAt"`
}

const (
	AuditLotCreate        = "lot_create"
	AuditLotDelete        = "lot_delete"
	AuditWeightmentCreate = "weightment_create"
	AuditInwardCreate     = "inward_create"
)

// Event is pushed to websocket subscribers when lots or inward entries
// change so open inward lists can refresh.
type Event struct {
	Type     string    `json:"type"`
	InwardID string    `json:"inwardId,omitempty"`
	LotNo    string    `json:"lotNo,omitempty"`
	At       time.Time `json:"at"`
}

const (
	EventInwardEntriesChanged = "inward_entries_changed"
	EventLotCreated           = "lot_created"
	EventLotDeleted           = "lot_deleted"
)

type AuditLogListResponse struct {
	AuditLogs []AuditLog `json:"auditLogs"`
}
