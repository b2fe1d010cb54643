package types

import (
	"fmt"
	"sort"
	"strings"
)

// NodeDBConnectionInfo is everything needed to open a connection to one
// node database. It is the boundary handed to connection pooling.
type NodeDBConnectionInfo struct {
	// NodeID identifies the physical node.
	NodeID int `json:"node_id"`

	// Driver is the database/sql driver name: sqlite3 or mysql
	Driver string `json:"driver"`

	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	User     string `json:"user"`
	Password string `json:"-"`

	// Properties holds extra driver parameters.
	Properties map[string]string `json:"properties,omitempty"`
}

// Address returns host:port.
func (n NodeDBConnectionInfo) Address() string {
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

// String renders the info without the password.
func (n NodeDBConnectionInfo) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "node=%d driver=%s addr=%s db=%s user=%s", n.NodeID, n.Driver, n.Address(), n.DBName, n.User)
	keys := make([]string, 0, len(n.Properties))
	for k := range n.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, n.Properties[k])
	}
	return b.String()
}
