package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/xwb1989/sqlparser"

	"github.com/csdb/txstore/godb"
)

// runREPL drives the store's §6 surface interactively: one line, one
// command. Transactions are explicit (begin/commit/abort) so a session can
// exercise the locking and recovery behavior the store provides, rather
// than hiding every statement behind an implicit auto-commit.
func runREPL(eng *godb.Engine, rl *readline.Instance) error {
	var tid godb.TransactionID
	haveTxn := false

	ensureTxn := func() godb.TransactionID {
		if !haveTxn {
			tid = eng.Pool.Begin()
			haveTxn = true
			fmt.Println("began transaction", tid)
		}
		return tid
	}

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.SplitN(line, " ", 2)
		cmd := strings.ToLower(fields[0])
		rest := ""
		if len(fields) == 2 {
			rest = fields[1]
		}

		switch cmd {
		case "quit", "exit":
			return nil
		case "begin":
			ensureTxn()
		case "commit":
			if !haveTxn {
				fmt.Println("no open transaction")
				continue
			}
			if err := eng.Pool.CommitTransaction(tid); err != nil {
				printErr(err)
			}
			haveTxn = false
		case "abort":
			if !haveTxn {
				fmt.Println("no open transaction")
				continue
			}
			if err := eng.Pool.AbortTransaction(tid); err != nil {
				printErr(err)
			}
			haveTxn = false
		case "checkpoint":
			if err := eng.Log.LogCheckpoint(eng.Pool.ActiveTransactions()); err != nil {
				printErr(err)
			}
		case "create":
			if err := createTable(eng, rest); err != nil {
				printErr(err)
			}
		case "scan":
			if err := scanTable(eng, ensureTxn(), strings.TrimSpace(rest)); err != nil {
				printErr(err)
			}
		case "sql":
			if err := runSQLInsert(eng, ensureTxn(), rest); err != nil {
				printErr(err)
			}
		default:
			fmt.Println("unknown command:", cmd)
		}
	}
}

// createTable parses "create name (field type, field type, ...)" and
// registers it in the catalog, the same text format the catalog's backing
// file uses (catalog.go).
func createTable(eng *godb.Engine, rest string) error {
	open := strings.Index(rest, "(")
	close := strings.LastIndex(rest, ")")
	if open < 0 || close < open {
		return fmt.Errorf("usage: create <name> (field type, field type, ...)")
	}
	name := strings.TrimSpace(rest[:open])
	body := rest[open+1 : close]

	var fields []godb.FieldType
	for _, part := range strings.Split(body, ",") {
		tok := strings.Fields(strings.TrimSpace(part))
		if len(tok) != 2 {
			return fmt.Errorf("malformed field %q", part)
		}
		var ftype godb.DBType
		switch strings.ToLower(tok[1]) {
		case "int":
			ftype = godb.IntType
		case "string":
			ftype = godb.StringType
		default:
			return fmt.Errorf("unknown field type %q", tok[1])
		}
		fields = append(fields, godb.FieldType{Fname: tok[0], Ftype: ftype})
	}

	if err := eng.Catalog.AddTable(name, &godb.TupleDesc{Fields: fields}); err != nil {
		return err
	}
	fmt.Println("created table", name)
	return nil
}

// scanTable sequentially reads every live tuple in table, printing one
// line per row -- a minimal worked example of the §6 surface's read path,
// standing in for the query-execution operators this engine does not
// implement.
func scanTable(eng *godb.Engine, tid godb.TransactionID, table string) error {
	info, err := eng.Catalog.GetTableInfoName(table)
	if err != nil {
		return err
	}
	hf, ok := info.File().(*godb.HeapFile)
	if !ok {
		return fmt.Errorf("table %q is not a heap file", table)
	}
	next, err := hf.Iterator(tid)
	if err != nil {
		return err
	}
	n := 0
	for {
		t, err := next()
		if err != nil {
			return err
		}
		if t == nil {
			break
		}
		fmt.Println(formatTuple(t))
		n++
	}
	fmt.Printf("%d row(s)\n", n)
	return nil
}

func formatTuple(t *godb.Tuple) string {
	parts := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		switch v := f.(type) {
		case godb.IntField:
			parts[i] = strconv.FormatInt(v.Value, 10)
		case godb.StringField:
			parts[i] = v.Value
		default:
			parts[i] = fmt.Sprintf("%v", v)
		}
	}
	return strings.Join(parts, " | ")
}

// runSQLInsert accepts "sql insert into <table> values (...)" and inserts
// one tuple per parsed row. Parsing is deliberately narrow: the store has
// no query planner, so only literal INSERT statements are handled, via a
// real SQL AST rather than hand-rolled comma splitting.
func runSQLInsert(eng *godb.Engine, tid godb.TransactionID, stmt string) error {
	parsed, err := sqlparser.Parse(stmt)
	if err != nil {
		return fmt.Errorf("parsing sql: %w", err)
	}
	ins, ok := parsed.(*sqlparser.Insert)
	if !ok {
		return fmt.Errorf("only INSERT statements are supported")
	}
	table := ins.Table.Name.String()

	info, err := eng.Catalog.GetTableInfoName(table)
	if err != nil {
		return err
	}
	desc := info.Descriptor()

	rows, ok := ins.Rows.(sqlparser.Values)
	if !ok {
		return fmt.Errorf("only literal VALUES rows are supported")
	}

	for _, row := range rows {
		if len(row) != len(desc.Fields) {
			return fmt.Errorf("expected %d values, got %d", len(desc.Fields), len(row))
		}
		fieldVals := make([]godb.DBValue, len(row))
		for i, expr := range row {
			val, ok := expr.(*sqlparser.SQLVal)
			if !ok {
				return fmt.Errorf("value %d is not a literal", i)
			}
			switch desc.Fields[i].Ftype {
			case godb.IntType:
				n, err := strconv.ParseInt(string(val.Val), 10, 64)
				if err != nil {
					return fmt.Errorf("value %d: %w", i, err)
				}
				fieldVals[i] = godb.IntField{Value: n}
			case godb.StringType:
				fieldVals[i] = godb.StringField{Value: string(val.Val)}
			}
		}
		t := &godb.Tuple{Desc: *desc, Fields: fieldVals}
		if err := eng.Pool.InsertTuple(tid, info.ID(), t); err != nil {
			return err
		}
	}
	fmt.Printf("inserted %d row(s) into %s\n", len(rows), table)
	return nil
}
