package main

import (
	"log"

	"entgo.io/ent/entc"
	"entgo.io/ent/entc/gen"
)

// Regenerates the Ent client from the schemas under db/ent/schema. The
// generated code lands in gen/ent, which stays out of version control; the
// schemas also drive the Postgres migrations.
func main() {
	err := entc.Generate(
		"./db/ent/schema",
		&gen.Config{
			Target:  "gen/ent",
			Package: "ent",
			Schema:  "ent/schema",
		},
	)
	if err != nil {
		log.Fatalf("ent codegen: %v", err)
	}
}
