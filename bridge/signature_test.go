package bridge

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wippyai/native-bridge/managed"
)

func TestParseSignature(t *testing.T) {
	tests := []struct {
		sig    string
		shorty string
		params []Type
		ret    Type
	}{
		{"()V", "V", nil, Type{Kind: managed.Void}},
		{"(IJ)Z", "ZIJ", []Type{{Kind: managed.Int}, {Kind: managed.Long}}, Type{Kind: managed.Boolean}},
		{
			"(Ljava/lang/String;[I[[Ljava/lang/Object;)Ljava/lang/Class;", "LLLL",
			[]Type{
				{Kind: managed.Reference, Class: "java/lang/String"},
				{Kind: managed.Reference, Class: "[I"},
				{Kind: managed.Reference, Class: "[[Ljava/lang/Object;"},
			},
			Type{Kind: managed.Reference, Class: "java/lang/Class"},
		},
		{
			"(DFCSB)[B", "LDFCSB",
			[]Type{{Kind: managed.Double}, {Kind: managed.Float}, {Kind: managed.Char}, {Kind: managed.Short}, {Kind: managed.Byte}},
			Type{Kind: managed.Reference, Class: "[B"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.sig, func(t *testing.T) {
			sig, err := ParseSignature(tt.sig)
			if err != nil {
				t.Fatal(err)
			}
			if got := sig.Shorty(); got != tt.shorty {
				t.Errorf("shorty = %q, want %q", got, tt.shorty)
			}
			if diff := cmp.Diff(tt.params, sig.Params); diff != "" {
				t.Errorf("params (-want +got):\n%s", diff)
			}
			if sig.Return != tt.ret {
				t.Errorf("return = %v, want %v", sig.Return, tt.ret)
			}
		})
	}
}

func TestParseSignature_Invalid(t *testing.T) {
	for _, s := range []string{"", "V", "()", "(V)V", "(I", "(L;)V", "(Ljava/lang/String)V", "()VV", "([V)V", "(Q)V"} {
		if _, err := ParseSignature(s); err == nil {
			t.Errorf("%q accepted", s)
		}
	}
}

func TestMangleName(t *testing.T) {
	tests := []struct {
		class, method, want string
	}{
		{"com/example/Foo", "bar", "Java_com_example_Foo_bar"},
		{"my_pkg/Cls", "do_it", "Java_my_1pkg_Cls_do_1it"},
		{"p/Café", "x", "Java_p_Caf_000e9_x"},
		{"p/Emoji", "\U0001F600", "Java_p_Emoji__0d83d_0de00"},
		{"p/Dollar$Inner", "run", "Java_p_Dollar_00024Inner_run"},
	}
	for _, tt := range tests {
		if got := MangleName(tt.class, tt.method); got != tt.want {
			t.Errorf("MangleName(%q, %q) = %q, want %q", tt.class, tt.method, got, tt.want)
		}
	}
}

func TestMangleLongName(t *testing.T) {
	tests := []struct {
		sig, want string
	}{
		{"()V", "Java_com_example_Foo_bar__"},
		{"(ILjava/lang/String;[B)V", "Java_com_example_Foo_bar__ILjava_lang_String_2_3B"},
		{"([[J)V", "Java_com_example_Foo_bar___3_3J"},
	}
	for _, tt := range tests {
		sig, err := ParseSignature(tt.sig)
		if err != nil {
			t.Fatal(err)
		}
		if got := MangleLongName("com/example/Foo", "bar", sig); got != tt.want {
			t.Errorf("%s: %q, want %q", tt.sig, got, tt.want)
		}
	}
}
