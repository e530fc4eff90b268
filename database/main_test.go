package database

import (
	"context"
	"log"
	"os"
	"testing"

	"github.com/siherrmann/newsdedup/helper"
	loadSql "github.com/siherrmann/newsdedup/sql"
	"github.com/stretchr/testify/require"
)

// testDim is shared by all tests of the package since they use one table.
const testDim = 4

var dbPort string

func TestMain(m *testing.M) {
	teardown, port, err := helper.MustStartPostgresContainer()
	if err != nil {
		log.Fatalf("error starting postgres container: %v", err)
	}
	dbPort = port

	code := m.Run()

	if err := teardown(context.Background()); err != nil {
		log.Printf("error tearing down postgres container: %v", err)
	}
	os.Exit(code)
}

func initDB(t *testing.T) *helper.Database {
	helper.SetTestDatabaseConfigEnvs(t, dbPort)
	dbConfig, err := helper.NewDatabaseConfiguration()
	require.NoError(t, err, "failed to create database configuration")
	database := helper.NewTestDatabase(dbConfig)

	err = loadSql.Init(database.Instance)
	require.NoError(t, err)

	t.Cleanup(func() {
		database.Close()
	})

	return database
}

func initHandler(t *testing.T) *ArticlesDBHandler {
	handler, err := NewArticlesDBHandler(initDB(t), testDim, true)
	require.NoError(t, err, "Expected NewArticlesDBHandler to not return an error")
	return handler
}
