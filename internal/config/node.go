package config

import (
	"fmt"
	"strconv"
	"strings"

	xerrors "github.com/xdbcore/xdb/internal/errors"
	"github.com/xdbcore/xdb/pkg/types"
)

const (
	nodePrefix    = "xdb.node."
	defaultPrefix = "xdb.default."
	customInfix   = "custom."
)

// nodeProperty looks up xdb.node.<id>.<key>, then xdb.default.<key>.
func (c *Config) nodeProperty(nodeID int, key string) string {
	if v, ok := c.Properties[fmt.Sprintf("%s%d.%s", nodePrefix, nodeID, key)]; ok {
		return v
	}
	return c.Properties[defaultPrefix+key]
}

func (c *Config) findNode(nodeID int) (NodeConfig, bool) {
	for _, n := range c.Nodes {
		if n.ID == nodeID {
			return n, true
		}
	}
	return NodeConfig{}, false
}

// NodeConnectionInfo resolves the connection parameters for database dbName
// on node nodeID. Explicit node settings win over xdb.node.<id>.* properties,
// which win over xdb.default.*. Extra driver properties come from
// xdb.default.custom.* overlaid with xdb.node.<id>.custom.*.
func (c *Config) NodeConnectionInfo(nodeID int, dbName string) (types.NodeDBConnectionInfo, error) {
	n, ok := c.findNode(nodeID)
	if !ok {
		return types.NodeDBConnectionInfo{}, xerrors.NewLookupError(xerrors.CodeNodeNotFound, "node %d is not configured", nodeID)
	}

	info := types.NodeDBConnectionInfo{
		NodeID:     nodeID,
		Driver:     firstNonEmpty(n.Driver, c.nodeProperty(nodeID, "driver"), "sqlite3"),
		Host:       firstNonEmpty(n.Host, c.nodeProperty(nodeID, "host"), "localhost"),
		DBName:     dbName,
		User:       firstNonEmpty(n.User, c.nodeProperty(nodeID, "user")),
		Password:   firstNonEmpty(n.Password, c.nodeProperty(nodeID, "password")),
		Properties: make(map[string]string),
	}

	info.Port = n.Port
	if info.Port == 0 {
		if p := c.nodeProperty(nodeID, "port"); p != "" {
			port, err := strconv.Atoi(p)
			if err != nil {
				return types.NodeDBConnectionInfo{}, xerrors.NewConfigError(xerrors.CodeInvalidProperty,
					fmt.Sprintf("node %d: invalid port %q", nodeID, p))
			}
			info.Port = port
		}
	}
	if info.Port == 0 && info.Driver == "mysql" {
		info.Port = 3306
	}

	if pattern := c.nodeProperty(nodeID, "dbname"); pattern != "" {
		info.DBName = strings.ReplaceAll(pattern, "{db}", dbName)
	}

	defaultCustom := defaultPrefix + customInfix
	nodeCustom := fmt.Sprintf("%s%d.%s", nodePrefix, nodeID, customInfix)
	for k, v := range c.Properties {
		if strings.HasPrefix(k, defaultCustom) {
			info.Properties[strings.TrimPrefix(k, defaultCustom)] = v
		}
	}
	for k, v := range c.Properties {
		if strings.HasPrefix(k, nodeCustom) {
			info.Properties[strings.TrimPrefix(k, nodeCustom)] = v
		}
	}
	if info.Driver == "sqlite3" && n.Dir != "" {
		info.Properties["dir"] = n.Dir
	}

	return info, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
