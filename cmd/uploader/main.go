// cmd/uploader/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Gammanik/resumable-upload/internal/client"
	"github.com/Gammanik/resumable-upload/internal/logger"
	"github.com/Gammanik/resumable-upload/internal/utils"
	"github.com/docker/go-units"
	"github.com/urfave/cli/v2"
)

var log, _ = logger.New("uploader")

var verifyCmd = &cli.Command{
	Name:      "verify",
	Usage:     "Show whether a file is already on the server and which pieces were received",
	ArgsUsage: "<file>",
	Action: func(ctx *cli.Context) error {
		path := ctx.Args().First()
		if path == "" {
			return cli.Exit("file path is required", 1)
		}

		fileHash, _, err := utils.HashFile(path)
		if err != nil {
			return err
		}

		c := client.New(ctx.String("server"), log)
		status, err := c.Verify(context.Background(), fileHash, filepath.Base(path))
		if err != nil {
			return err
		}

		fmt.Println("fileHash:", fileHash)
		if !status.ShouldUpload {
			fmt.Println("file is already uploaded")
			return nil
		}

		fmt.Printf("received pieces: %d\n", len(status.UploadedList))
		for _, name := range status.UploadedList {
			fmt.Println(" ", name)
		}
		return nil
	},
}

var uploadCmd = &cli.Command{
	Name:      "upload",
	Usage:     "Upload a file in pieces, resuming a previous attempt if possible",
	ArgsUsage: "<file>",
	Action: func(ctx *cli.Context) error {
		path := ctx.Args().First()
		if path == "" {
			return cli.Exit("file path is required", 1)
		}

		chunkSize, err := units.RAMInBytes(ctx.String("chunk-size"))
		if err != nil {
			return fmt.Errorf("invalid chunk size: %w", err)
		}

		c := client.New(ctx.String("server"), log)
		report, err := c.UploadFile(context.Background(), path, chunkSize, ctx.Int("concurrency"))
		if err != nil {
			return err
		}

		if report.Deduplicated {
			fmt.Printf("%s already on server (%s)\n", path, report.FileHash)
			return nil
		}

		fmt.Printf("uploaded %s (%s): %d pieces sent, %d skipped\n",
			path, report.FileHash, report.Uploaded, report.Skipped)
		return nil
	},
}

func main() {
	app := &cli.App{
		Name:  "uploader",
		Usage: "Resumable chunked upload client",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Value:   "http://localhost:3001",
				Usage:   "Upload server base URL",
				EnvVars: []string{"UPLOAD_SERVER"},
			},
			&cli.StringFlag{
				Name:  "chunk-size",
				Value: "10MB",
				Usage: "Piece size, e.g. 512KB or 10MB",
			},
			&cli.IntFlag{
				Name:  "concurrency",
				Value: 4,
				Usage: "Number of pieces uploaded in parallel",
			},
		},
		Commands: []*cli.Command{
			verifyCmd,
			uploadCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Errorw("uploader", "error", err)
		os.Exit(1)
	}
}
