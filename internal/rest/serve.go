// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


// Package rest exposes alignment jobs over HTTP. Progress is streamed back as plain text.
// All file names are relative to the working directory of the server
package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/mlnoga/imalign/internal/align"
	"github.com/mlnoga/imalign/internal/logw"
	"github.com/mlnoga/imalign/internal/ops"
)

// Creates the router for the API
func NewRouter() *gin.Engine {
	r := gin.Default()
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.POST("/align", postAlign)
			v1.POST("/job", postJob)
		}
	}
	return r
}

// Listens and serves the API on the given address, e.g. ":8080"
func Serve(addr string) error {
	return NewRouter().Run(addr)
}

func getPing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
	})
}

// Serializes concurrent writes from pipeline goroutines, and flushes each one to the client
type flushWriter struct {
	mutex sync.Mutex
	w     gin.ResponseWriter
}

func (fw *flushWriter) Write(p []byte) (n int, err error) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	n, err = fw.w.Write(p)
	fw.w.Flush()
	return n, err
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

type postAlignArgs struct {
	Reference string       `json:"reference"`
	Moving    []string     `json:"moving"`  // File name patterns with wildcards
	Out       string       `json:"out"`     // Output file pattern, %d expands to the image ID
	Matches   string       `json:"matches"` // Optional match overlay file pattern
	Keypoints string       `json:"keypoints"` // Optional keypoint CSV file pattern
	Config    align.Config `json:"config"`
}

func postAlign(c *gin.Context) {
	args := postAlignArgs{Out: "aligned%d.jpg", Config: align.DefaultConfig()}
	if err := c.ShouldBindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := args.Config.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opAlign := ops.NewOpAlign(args.Config, args.Matches)
	opAlign.Keypoints = args.Keypoints
	seq := ops.NewOpSequence(
		ops.NewOpLoadMany(args.Moving),
		ops.NewOpLoadRef(args.Reference),
		ops.NewOpForEach(opAlign),
		ops.NewOpSave(args.Out),
	)
	runJob(c, args, seq)
}

func postJob(c *gin.Context) {
	var seq ops.OpSequence
	if err := c.ShouldBindJSON(&seq); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	runJob(c, &seq, &seq)
}

// Runs the operator, streaming the log to the client and to the server log
func runJob(c *gin.Context, args interface{}, op ops.Operator) {
	c.Header("Content-Type", "text/plain")
	c.Status(http.StatusOK)
	logWriter := io.MultiWriter(&flushWriter{w: c.Writer}, logw.Writer)
	defer logw.LogSync()

	if err := printArgs(logWriter, "Arguments:\n", "\n", args); err != nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	ctx := ops.NewContext(logWriter)
	ctx.RestrictPaths = true
	imgs, err := ops.Run(op, ctx, ctx.MaxThreads)
	if err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		return
	}
	fmt.Fprintf(logWriter, "Processed %d images.\n", len(imgs))
}
