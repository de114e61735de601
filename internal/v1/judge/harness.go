package judge

import (
	"fmt"
	"regexp"
)

// Judge0 language IDs for the languages battles accept.
var languageIDs = map[string]int{
	"python":     71,
	"cpp":        54,
	"java":       62,
	"javascript": 63,
	"go":         60,
}

// SupportedLanguage reports whether submissions in language can be judged.
func SupportedLanguage(language string) bool {
	_, ok := languageIDs[language]
	return ok
}

// Tried in order; the first match wins.
var functionNamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`def\s+(\w+)\s*\(`),
	regexp.MustCompile(`function\s+(\w+)\s*\(`),
	regexp.MustCompile(`func\s+(\w+)\s*\(`),
	regexp.MustCompile(`public\s+(?:static\s+)?(?:\w+\s+)?(\w+)\s*\(`),
	regexp.MustCompile(`(?:int|void|double|float|char|string)\s+(\w+)\s*\(`),
}

func extractFunctionName(code string) (string, bool) {
	for _, pat := range functionNamePatterns {
		if m := pat.FindStringSubmatch(code); m != nil {
			return m[1], true
		}
	}
	return "", false
}

var restrictedMainPattern = regexp.MustCompile(`if\s+__name__\s*==\s*['"]__main__['"]\s*:`)

// hasRestrictedMainBlock detects a __main__ guard in Python submissions.
// Submissions must expose a bare function; a main block would swallow the
// harness's stdin.
func hasRestrictedMainBlock(code string) bool {
	return restrictedMainPattern.MatchString(code)
}

var javaClassPattern = regexp.MustCompile(`class\s+(\w+)`)

// wrapUserCode embeds the submitted function in a per-language runner that
// reads one test case from stdin, calls the function and prints the result.
func wrapUserCode(code, language string) (string, error) {
	if language == "python" && hasRestrictedMainBlock(code) {
		return "", &Error{Kind: KindBadSubmission, Detail: "submissions must not include an `if __name__ == '__main__'` block"}
	}

	name, ok := extractFunctionName(code)
	if !ok {
		return "", &Error{Kind: KindBadSubmission, Detail: "could not find a function definition in the submission"}
	}

	switch language {
	case "python":
		return fmt.Sprintf(`import ast
%s

arr = ast.literal_eval(input())
print(%s(arr))
`, code, name), nil

	case "javascript":
		return fmt.Sprintf(`%s

const readline = require('readline');
const rl = readline.createInterface({ input: process.stdin });
rl.on('line', (line) => {
    const arr = JSON.parse(line);
    console.log(%s(arr));
    rl.close();
});
`, code, name), nil

	case "java":
		className := "Solution"
		if m := javaClassPattern.FindStringSubmatch(code); m != nil {
			className = m[1]
		}
		return fmt.Sprintf(`import java.util.*;

%s

public class Main {
    public static void main(String[] args) {
        Scanner scanner = new Scanner(System.in);
        String input = scanner.nextLine();
        %s solution = new %s();
        System.out.println(solution.%s(input));
    }
}
`, code, className, className, name), nil

	case "cpp":
		return fmt.Sprintf(`#include <iostream>
#include <string>
#include <vector>
using namespace std;

%s

int main() {
    string input;
    getline(cin, input);
    cout << %s(input) << endl;
    return 0;
}
`, code, name), nil

	case "go":
		return fmt.Sprintf(`package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

%s

func main() {
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	fmt.Println(%s(strings.TrimSpace(line)))
}
`, code, name), nil
	}

	return "", &Error{Kind: KindUnsupportedLanguage, Detail: fmt.Sprintf("unsupported language: %s", language)}
}
