package main

import "imagesearch/internal/cli"

func main() {
	cli.Execute()
}
