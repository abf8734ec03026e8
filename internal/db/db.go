// Package db opens the gorm handle for the configured driver. sqlite is the
// default for single-node installs; mysql serves shared deployments.
package db

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func Connect(driver, dsn string) (*gorm.DB, error) {
	switch driver {
	case "sqlite", "":
		return gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	case "mysql":
		return gorm.Open(mysql.Open(dsn), &gorm.Config{})
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", driver)
	}
}
