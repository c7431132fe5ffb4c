package macho

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

var (
	colorHeader  = color.New(color.Bold, color.FgHiBlue).SprintFunc()
	colorCommand = color.New(color.FgHiMagenta).SprintFunc()
	colorSection = color.New(color.FgHiCyan).SprintFunc()
	colorAddr    = color.New(color.Faint).SprintfFunc()
	colorStab    = color.New(color.FgYellow).SprintFunc()
)

// DumpLoads writes the header and load commands of the image to w.
func (f *File) DumpLoads(w io.Writer) {
	fmt.Fprintln(w, colorHeader(f.FileHeader.String()))
	for i, l := range f.Loads {
		switch l := l.(type) {
		case *Segment:
			fmt.Fprintf(w, "%03d: %s %s\n", i, colorCommand(l.Command()), l)
			for _, s := range l.Sections {
				fmt.Fprintf(w, "\t%s\n", colorSection(s))
			}
		default:
			fmt.Fprintf(w, "%03d: %s%s%v\n", i, colorCommand(l.Command()), pad(28-len(l.Command().String())), l)
		}
	}
}

// DumpSymbols writes every symbol table entry with its type description.
func (f *File) DumpSymbols(w io.Writer) {
	if f.Symtab == nil {
		return
	}
	fmt.Fprintf(w, "%s %s\n", colorCommand(f.Symtab.Command()), f.Symtab)
	for i, sym := range f.Symtab.Syms {
		var sec string
		if sym.Sect > 0 && int(sym.Sect) <= len(f.Sections) {
			sec = fmt.Sprintf(" (%s.%s)", f.Sections[sym.Sect-1].Seg, f.Sections[sym.Sect-1].Name)
		}
		typ := sym.Type.String()
		if sym.Type.IsDebugSym() {
			typ = colorStab(typ)
		}
		fmt.Fprintf(w, "%5d: %s <%s>%s %s\n", i, colorAddr("%#016x", sym.Value), typ, sec, sym.Name)
	}
}

// DumpCompileUnits writes the compile units found in the image's DWARF
// sections. Images without __debug_info print nothing.
func (f *File) DumpCompileUnits(w io.Writer) error {
	if f.Section(SegDWARF, SectDebugInfo) == nil {
		return nil
	}
	units, err := f.CompileUnits()
	if err != nil {
		return err
	}
	for _, u := range units {
		fmt.Fprintf(w, "%s %s\n", colorHeader("CU"), u)
	}
	return nil
}
