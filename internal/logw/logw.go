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


// Package logw is the process-wide log writer. It writes to stdout, and optionally
// also to a file. It does not add prefixes, or force newlines.
package logw

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
)

var (
	mu        sync.Mutex
	stdout    io.Writer = os.Stdout
	logFile   *bufio.Writer // The optional additional file to log into
	logFileOS *os.File
)

type teeWriter struct{}

// Writer sends everything written to it to stdout and the log file, if any.
// Safe for concurrent use, so pipeline goroutines can share it
var Writer io.Writer = teeWriter{}

func (teeWriter) Write(p []byte) (n int, err error) {
	mu.Lock()
	defer mu.Unlock()
	n, err = stdout.Write(p)
	if err != nil || logFile == nil {
		return n, err
	}
	return logFile.Write(p)
}

// Enables logging to file. Closes a previously opened log file
func LogAlsoToFile(fileName string) (err error) {
	mu.Lock()
	defer mu.Unlock()
	if err = closeFile(); err != nil {
		return err
	}
	f, err := os.OpenFile(fileName, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	logFileOS, logFile = f, bufio.NewWriter(f)
	return nil
}

func closeFile() error {
	if logFile == nil {
		return nil
	}
	if err := logFile.Flush(); err != nil {
		return err
	}
	err := logFileOS.Close()
	logFile, logFileOS = nil, nil
	return err
}

func LogPrint(args ...interface{}) (n int, err error) {
	return fmt.Fprint(Writer, args...)
}

func LogPrintln(args ...interface{}) (n int, err error) {
	return fmt.Fprintln(Writer, args...)
}

func LogPrintf(format string, args ...interface{}) (n int, err error) {
	return fmt.Fprintf(Writer, format, args...)
}

// Logs the message, flushes and closes the log file, and exits with status 1
func LogFatal(args ...interface{}) {
	fmt.Fprintln(Writer, args...)
	LogClose()
	os.Exit(1)
}

func LogFatalf(format string, args ...interface{}) {
	fmt.Fprintf(Writer, format, args...)
	LogClose()
	os.Exit(1)
}

// Flushes the log file to disk
func LogSync() {
	mu.Lock()
	defer mu.Unlock()
	if logFile == nil {
		return
	}
	logFile.Flush()
	logFileOS.Sync()
}

// Flushes and closes the log file. Further output goes to stdout only
func LogClose() error {
	mu.Lock()
	defer mu.Unlock()
	return closeFile()
}
