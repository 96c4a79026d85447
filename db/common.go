package db

import (
	"fmt"
	"strings"

	"github.com/alwitt/voxmux/common"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

/*
GetSqliteDialector define Sqlite GORM dialector

	@param dbFile string - Sqlite DB file
	@return GORM sqlite dialector
*/
func GetSqliteDialector(dbFile string) gorm.Dialector {
	return sqlite.Open(fmt.Sprintf("%s?_foreign_keys=on", dbFile))
}

/*
GetInMemSqliteDialector define a in-memory Sqlite GORM dialector

	@param dbName string - in-memory Sqlite DB name
	@return GORM sqlite dialector
*/
func GetInMemSqliteDialector(dbName string) gorm.Dialector {
	return sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", dbName))
}

/*
GetPostgresDialector define Postgres GORM dialector

	@param config common.PostgresConfig - Postgres connection config
	@param password string - user password
	@return GORM postgres dialector
*/
func GetPostgresDialector(config common.PostgresConfig, password string) gorm.Dialector {
	return postgres.Open(postgresDSN(config, password))
}

func postgresDSN(config common.PostgresConfig, password string) string {
	port := config.Port
	if port == 0 {
		port = 5432
	}
	params := []string{
		fmt.Sprintf("host=%s", config.Host),
		fmt.Sprintf("port=%d", port),
		fmt.Sprintf("user=%s", config.User),
		fmt.Sprintf("dbname=%s", config.Database),
	}
	if password != "" {
		params = append(params, fmt.Sprintf("password=%s", password))
	}
	if config.SSL.Enabled {
		if config.SSL.CAFile != nil {
			params = append(params, "sslmode=verify-full", fmt.Sprintf("sslrootcert=%s", *config.SSL.CAFile))
		} else {
			params = append(params, "sslmode=require")
		}
	} else {
		params = append(params, "sslmode=disable")
	}
	return strings.Join(params, " ")
}

/*
GetRecordingIndexDialector pick the GORM dialector for the recording index

	@param config common.RecordingIndexConfig - recording index config
	@param postgresPassword string - Postgres user password
	@return GORM dialector
*/
func GetRecordingIndexDialector(
	config common.RecordingIndexConfig, postgresPassword string,
) gorm.Dialector {
	if config.Postgres != nil {
		return GetPostgresDialector(*config.Postgres, postgresPassword)
	}
	return GetSqliteDialector(config.Sqlite.DBFile)
}
