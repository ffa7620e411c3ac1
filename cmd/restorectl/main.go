package main

import (
	"github.com/cuongbtq/photo-restore/cmd/restorectl/commands"
	"github.com/joho/godotenv"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	commands.Execute()
}
