package godb

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// TableInfo is one catalog entry: a table's name, its stable tableID (the
// PageID.TableID every one of its pages carries), and the DBFile backing
// it.
type TableInfo struct {
	name string
	id   int32
	file DBFile
}

func (ti *TableInfo) Name() string        { return ti.name }
func (ti *TableInfo) ID() int32           { return ti.id }
func (ti *TableInfo) File() DBFile        { return ti.file }
func (ti *TableInfo) Descriptor() *TupleDesc { return ti.file.Descriptor() }

// Catalog is the external collaborator the store consults to resolve a
// table name or a PageID.TableID to its backing DBFile (spec.md §3,
// "external collaborators"). Its own source was never part of the lab
// this engine is built from; the flat-text format below is the one the
// whole SimpleDB/GoDB lab lineage uses:
//
//	tableName (field1 int, field2 string, ...)
//
// one table per line, comma-separated fields, type names "int"/"string".
type Catalog struct {
	mu      sync.Mutex
	rootDir string
	bp      *BufferPool
	byName  map[string]*TableInfo
	byID    map[int32]*TableInfo
}

// NewCatalog parses catalogFile (if it exists) and opens every table it
// names as a HeapFile rooted at rootDir, mediated by bp. A missing
// catalogFile is not an error: it yields an empty catalog that AddTable
// can populate at runtime (spec.md's CLI load path).
func NewCatalog(catalogFile string, bp *BufferPool, rootDir string) (*Catalog, error) {
	c := &Catalog{
		rootDir: rootDir,
		bp:      bp,
		byName:  make(map[string]*TableInfo),
		byID:    make(map[int32]*TableInfo),
	}
	if catalogFile == "" {
		return c, nil
	}
	if _, err := os.Stat(catalogFile); os.IsNotExist(err) {
		return c, nil
	}
	if err := c.parseCatalogFile(catalogFile); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) parseCatalogFile(catalogFile string) error {
	f, err := os.Open(catalogFile)
	if err != nil {
		return GoDBError{StorageFaultError, err.Error()}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := c.parseCatalogLine(line); err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalog) parseCatalogLine(line string) error {
	open := strings.Index(line, "(")
	close := strings.LastIndex(line, ")")
	if open < 0 || close < open {
		return GoDBError{MalformedDataError, fmt.Sprintf("malformed catalog line: %q", line)}
	}
	name := strings.TrimSpace(line[:open])
	body := line[open+1 : close]

	var fields []FieldType
	for _, part := range strings.Split(body, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tok := strings.Fields(part)
		if len(tok) != 2 {
			return GoDBError{MalformedDataError, fmt.Sprintf("malformed field %q in table %q", part, name)}
		}
		var ftype DBType
		switch strings.ToLower(tok[1]) {
		case "int":
			ftype = IntType
		case "string":
			ftype = StringType
		default:
			return GoDBError{MalformedDataError, fmt.Sprintf("unknown field type %q", tok[1])}
		}
		fields = append(fields, FieldType{Fname: tok[0], Ftype: ftype})
	}

	td := &TupleDesc{Fields: fields}
	return c.AddTable(name, td)
}

// tableNameToFile maps a table name to its backing file path under rootDir.
func (c *Catalog) tableNameToFile(name string) string {
	return filepath.Join(c.rootDir, name+".dat")
}

// AddTable opens (or creates) name's backing HeapFile and registers it
// under both its name and its stable tableID.
func (c *Catalog) AddTable(name string, td *TupleDesc) error {
	hf, err := NewHeapFile(c.tableNameToFile(name), td, c.bp)
	if err != nil {
		return err
	}
	info := &TableInfo{name: name, id: hf.TableID(), file: hf}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.byName[name] = info
	c.byID[info.id] = info
	return nil
}

// GetTableInfoId resolves a tableID (as carried on the wire by log
// records and PageIDs) to its TableInfo.
func (c *Catalog) GetTableInfoId(id int) (*TableInfo, error) {
	return c.TableByID(int32(id))
}

// TableByID is GetTableInfoId's int32-keyed counterpart, matching
// PageID.TableID's type.
func (c *Catalog) TableByID(tableID int32) (*TableInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.byID[tableID]
	if !ok {
		return nil, GoDBError{SchemaViolationError, fmt.Sprintf("no table registered for tableID %d", tableID)}
	}
	return info, nil
}

// GetTableInfoDBFile resolves a DBFile back to the TableInfo that wraps
// it, for callers (the log's writePage) that only have the DBFile in hand.
func (c *Catalog) GetTableInfoDBFile(f DBFile) (*TableInfo, error) {
	return c.TableByID(f.TableID())
}

// GetTableInfoName resolves a table by name, the lookup the CLI's
// "insert into <table>" path uses.
func (c *Catalog) GetTableInfoName(name string) (*TableInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.byName[name]
	if !ok {
		return nil, GoDBError{SchemaViolationError, fmt.Sprintf("no table named %q", name)}
	}
	return info, nil
}
