package models

// Direction distinguishes input ports (messages delivered into a connector)
// from output ports (messages originated by it).
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// Connector is a published integration component. Use price/tax are charged
// per message hop, buy price/tax once per deployed instance.
type Connector struct {
	ID           int64  `db:"id" json:"id"`
	OwnerID      int64  `db:"owner_id" json:"owner_id"`
	Name         string `db:"name" json:"name"`
	UsePrice     int64  `db:"use_price" json:"use_price"`
	UseTax       int64  `db:"use_tax" json:"use_tax"`
	BuyPrice     int64  `db:"buy_price" json:"buy_price"`
	BuyTax       int64  `db:"buy_tax" json:"buy_tax"`
	QoSPrice     int64  `db:"qos_price" json:"qos_price"`
	Language     string `db:"language" json:"language"`
	Locality     string `db:"locality" json:"locality"`
	ServiceLevel string `db:"service_level" json:"service_level"`
}

// Instance is a configured deployment of a connector belonging to a user.
type Instance struct {
	ID          int64  `db:"id" json:"id"`
	OwnerID     int64  `db:"owner_id" json:"owner_id"`
	ConnectorID int64  `db:"connector_id" json:"connector_id"`
	Name        string `db:"name" json:"name"`
	Active      bool   `db:"active" json:"active"`
	Hits        int64  `db:"hits" json:"hits"`
}

// Interface is a named input or output port on an instance.
type Interface struct {
	ID         int64     `db:"id" json:"id"`
	InstanceID int64     `db:"instance_id" json:"instance_id"`
	Name       string    `db:"name" json:"name"`
	Direction  Direction `db:"direction" json:"direction"`
}
