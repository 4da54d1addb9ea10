package main

import "pdfexport/internal/cli"

func main() {
	cli.Execute()
}
