// Package main provides dragonctl, an operator CLI for a running dragon bot's
// mission-control endpoint.
//
// Usage:
//
//	dragonctl [flags] status|start|pause|reset
//	dragonctl hash-token <token>
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/cory-johannsen/dragonbot/internal/control"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:50061", "mission-control address")
	token := flag.String("token", os.Getenv("DRAGONBOT_CONTROL_TOKEN"), "operator bearer token")
	by := flag.String("by", "", "name recorded as the mission starter")
	timeout := flag.Duration("timeout", 10*time.Second, "request timeout")
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	if flag.Arg(0) == "hash-token" {
		if flag.NArg() != 2 {
			log.Fatal("usage: dragonctl hash-token <token>")
		}
		hash, err := control.HashToken(flag.Arg(1))
		if err != nil {
			log.Fatalf("hashing token: %v", err)
		}
		fmt.Println(hash)
		return
	}

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("connecting to %s: %v", *addr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if *token != "" {
		ctx = control.WithToken(ctx, *token)
	}

	if err := run(ctx, control.NewClient(conn), flag.Arg(0), *by); err != nil {
		log.Fatalf("%s: %v", flag.Arg(0), err)
	}
}

func run(ctx context.Context, c *control.Client, verb, by string) error {
	switch verb {
	case "status":
		st, err := c.Status(ctx)
		if err != nil {
			return err
		}
		out, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(st)
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	case "start":
		return c.StartMission(ctx, by)
	case "pause":
		return c.PauseMission(ctx)
	case "reset":
		return c.ResetMission(ctx)
	default:
		return fmt.Errorf("unknown command %q", verb)
	}
}
