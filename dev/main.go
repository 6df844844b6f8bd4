package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
)

func create(recreate, stack bool) error {
	_, err := os.Stat("go.mod")
	if os.IsNotExist(err) {
		return fmt.Errorf("the dev environment must be created in the repository root (the same directory as the 'go.mod' file)")
	}

	if recreate {
		err = os.RemoveAll(stateDir)
		if err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	err = os.MkdirAll(stateDir, 0777)
	if err != nil && !os.IsExist(err) {
		return err
	}

	if stack {
		err = CreateLocalStack()
		if err != nil {
			return err
		}
	}
	err = CreateDatabase()
	if err != nil {
		return err
	}
	return WriteLocalConfig(stack)
}

func main() {
	recreate := flag.Bool("recreate", false, "recreate the dev environment from scratch")
	stack := flag.Bool("stack", false, "start redis and a fake smtp server with docker compose")
	flag.Parse()

	err := create(*recreate, *stack)
	if err != nil {
		slog.Error("failed to create dev environment", "err", err.Error())
		os.Exit(1)
	}

	slog.Info("dev environment created sucessfully!")
}
